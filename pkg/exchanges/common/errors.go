package common

import (
	"errors"
	"fmt"
)

// ErrGateway matches every failure raised while talking to the exchange,
// whether the request never arrived or the exchange refused it.
var ErrGateway = errors.New("exchange gateway error")

// CodeTimestampOutsideRecvWindow is the exchange code for a request whose
// timestamp was rejected by the skew check.
const CodeTimestampOutsideRecvWindow = -1021

// TransportError is a network or timeout failure reaching the exchange.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrGateway }

// ExchangeError is a non-2xx response. Body is kept verbatim; Code and Message
// are filled when the body is the exchange's {"code","msg"} envelope.
type ExchangeError struct {
	Method  string
	Path    string
	Status  int
	Body    string
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: code %d: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *ExchangeError) Is(target error) bool { return target == ErrGateway }

// IsTimestampRejection reports whether err is the exchange refusing a request
// because of clock skew. Re-syncing the clock is the remedy.
func IsTimestampRejection(err error) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.Code == CodeTimestampOutsideRecvWindow
}

// ValidationError rejects a request before any network call: quantity outside
// filter bounds, leverage out of range, amount above the configured ceiling.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RiskRejection is a refusal derived from running risk state (daily limits,
// account balance).
type RiskRejection struct {
	Reason string
}

func (e *RiskRejection) Error() string { return e.Reason }
