package aster

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

const signatureKey = "signature"

// Param is one query parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter list. Unlike url.Values it keeps the order
// the caller assembled, which is the order the exchange verifies the
// signature against.
type Params []Param

// Add appends a parameter; repeated keys are kept.
func (p *Params) Add(key, value string) {
	*p = append(*p, Param{Key: key, Value: value})
}

// Set replaces the first parameter named key, or appends it.
func (p *Params) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	p.Add(key, value)
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode renders the parameters as a query string in order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

func (p Params) withoutSignature() Params {
	out := make(Params, 0, len(p))
	for _, kv := range p {
		if kv.Key != signatureKey {
			out = append(out, kv)
		}
	}
	return out
}

// Sign returns the lowercase hex HMAC-SHA256 of the encoded params, keyed by
// secret. Any existing signature entry is excluded from the signed bytes.
func Sign(params Params, secret string) string {
	return signPayload(params.withoutSignature().Encode(), secret)
}

func signPayload(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
