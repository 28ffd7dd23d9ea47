package aster

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-gateway/pkg/exchanges/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
	}, nil)
	return c, srv
}

// splitRaw splits a raw query string without reordering it.
func splitRaw(raw string) Params {
	var p Params
	for _, part := range strings.Split(raw, "&") {
		k, v, _ := strings.Cut(part, "=")
		p.Add(k, v)
	}
	return p
}

func TestSubmitOrderSignsTimestampAndAppendsSignatureLast(t *testing.T) {
	var (
		gotBody   string
		gotHeader string
		gotMethod string
	)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-MBX-APIKEY")
		gotMethod = r.Method
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"cid-1","side":"BUY","type":"MARKET","status":"NEW","origQty":"0.012","executedQty":"0","avgPrice":"0"}`))
	})

	before := time.Now().UnixMilli()
	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Quantity: decimal.RequireFromString("0.0120"),
		ClientID: "cid-1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ExchangeOrderID != "42" || res.Status != common.StatusNew {
		t.Fatalf("result=%+v, expected order 42 NEW", res)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method=%s, expected POST", gotMethod)
	}
	if gotHeader != "key" {
		t.Fatalf("api key header=%q, expected key", gotHeader)
	}

	params := splitRaw(gotBody)
	keys := make([]string, 0, len(params))
	for _, kv := range params {
		keys = append(keys, kv.Key)
	}
	wantKeys := "symbol,side,type,positionSide,quantity,newClientOrderId,timestamp,signature"
	if strings.Join(keys, ",") != wantKeys {
		t.Fatalf("keys=%s, expected %s", strings.Join(keys, ","), wantKeys)
	}
	if q, _ := params.Get("quantity"); q != "0.012" {
		t.Fatalf("quantity=%s, expected 0.012", q)
	}

	sig, _ := params.Get("signature")
	unsigned := params[:len(params)-1]
	if want := signPayload(unsigned.Encode(), "secret"); sig != want {
		t.Fatalf("signature=%s, expected %s", sig, want)
	}

	tsRaw, _ := params.Get("timestamp")
	ts, _ := strconv.ParseInt(tsRaw, 10, 64)
	if ts > before {
		t.Fatalf("timestamp %d ahead of local clock %d before any sync", ts, before)
	}
}

func TestSignedGetUsesQueryString(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"symbol":"ETHUSDT","positionAmt":"-1.5","entryPrice":"3000","positionSide":"BOTH"}]`))
	})

	pos, err := c.GetPositions(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(pos) != 1 || !pos[0].PositionAmt.Equal(decimal.RequireFromString("-1.5")) {
		t.Fatalf("positions=%+v, expected one with amount -1.5", pos)
	}
	if !strings.HasPrefix(gotQuery, "symbol=ETHUSDT&timestamp=") || !strings.Contains(gotQuery, "&signature=") {
		t.Fatalf("query=%s, expected symbol, timestamp then signature", gotQuery)
	}
}

func TestRecvWindowIsSignedBeforeTimestamp(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL, RecvWindow: 5000}, nil)

	if _, err := c.GetBalance(context.Background()); err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !strings.HasPrefix(gotQuery, "recvWindow=5000&timestamp=") {
		t.Fatalf("query=%s, expected recvWindow first", gotQuery)
	}
}

func TestNon2xxReturnsExchangeError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
	})

	_, err := c.Request(context.Background(), http.MethodGet, "/fapi/v2/balance", true, nil)
	var exErr *common.ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("err=%v, expected *ExchangeError", err)
	}
	if exErr.Status != http.StatusBadRequest || exErr.Code != -1021 {
		t.Fatalf("status=%d code=%d, expected 400/-1021", exErr.Status, exErr.Code)
	}
	if !strings.Contains(exErr.Body, "recvWindow") {
		t.Fatalf("body=%q, expected raw exchange body", exErr.Body)
	}
	if !errors.Is(err, common.ErrGateway) {
		t.Fatal("expected errors.Is(err, ErrGateway)")
	}
	if !common.IsTimestampRejection(err) {
		t.Fatal("expected a timestamp rejection")
	}
}

func TestNonJSONErrorBodyIsKeptVerbatim(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := c.Request(context.Background(), http.MethodGet, "/fapi/v1/time", false, nil)
	var exErr *common.ExchangeError
	if !errors.As(err, &exErr) || exErr.Body != "upstream down" || exErr.Code != 0 {
		t.Fatalf("err=%v, expected ExchangeError with verbatim body", err)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: url, Timeout: time.Second}, nil)
	_, err := c.GetServerTime(context.Background())

	var trErr *common.TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("err=%v, expected *TransportError", err)
	}
	if !errors.Is(err, common.ErrGateway) {
		t.Fatal("expected errors.Is(err, ErrGateway)")
	}
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.GetBalance(context.Background()); !errors.Is(err, errMissingCredentials) {
		t.Fatalf("err=%v, expected errMissingCredentials", err)
	}
}

func TestResyncUsesServerTime(t *testing.T) {
	serverTime := time.Now().Add(10 * time.Second).UnixMilli()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime":` + strconv.FormatInt(serverTime, 10) + `}`))
	})

	offset := c.Resync(context.Background())
	// ~10s ahead minus the 1s safety margin, allowing for round-trip time.
	if offset < 8500 || offset > 9100 {
		t.Fatalf("offset=%d, expected about 9000", offset)
	}
	if c.ClockOffset() != offset {
		t.Fatalf("ClockOffset=%d, expected %d", c.ClockOffset(), offset)
	}
}

func TestLimitOrderCarriesPriceAndTimeInForce(t *testing.T) {
	var gotBody string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"orderId":7,"status":"NEW"}`))
	})

	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:       "BTCUSDT",
		Side:         common.SideSell,
		Type:         common.OrderTypeLimit,
		Quantity:     decimal.RequireFromString("1"),
		Price:        decimal.RequireFromString("65000.50"),
		PositionSide: common.PositionShort,
		ReduceOnly:   true,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !strings.HasPrefix(gotBody, "symbol=BTCUSDT&side=SELL&type=LIMIT&positionSide=SHORT&timeInForce=GTC&reduceOnly=true&quantity=1&price=65000.5&timestamp=") {
		t.Fatalf("body=%s", gotBody)
	}
}

func TestSubmitOrderRejectsNonPositiveQuantityWithoutNetwork(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket})
	var vErr *common.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err=%v, expected *ValidationError", err)
	}
	if called {
		t.Fatal("exchange called for an invalid order")
	}
}

func TestKlinesDecodePositionalArrays(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[[1700000000000,"100.1","101","99.5","100.7","12.5",1700000059999,"1250.0",42,"6","600","0"]]`))
	})

	klines, err := c.Klines(context.Background(), "BTCUSDT", "1m", 1)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if gotQuery != "symbol=BTCUSDT&interval=1m&limit=1" {
		t.Fatalf("query=%s", gotQuery)
	}
	if len(klines) != 1 {
		t.Fatalf("len=%d, expected 1", len(klines))
	}
	k := klines[0]
	if k.OpenTime != 1700000000000 || k.CloseTime != 1700000059999 {
		t.Fatalf("times=%d/%d", k.OpenTime, k.CloseTime)
	}
	if k.Close.String() != "100.7" || k.Volume.String() != "12.5" {
		t.Fatalf("close=%s volume=%s", k.Close, k.Volume)
	}
}

func TestSubmitOrderRejectsQuantityBelowWirePrecision(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		Quantity: decimal.RequireFromString("0.000000004"),
	})
	var vErr *common.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err=%v, expected *ValidationError", err)
	}
	if called {
		t.Fatal("quantity=0 sent to the exchange")
	}
}

func TestHistoryQueriesEncodeOptionalParams(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		q.Del("timestamp")
		q.Del("signature")
		paths = append(paths, r.URL.Path+"?"+q.Encode())
		w.Write([]byte(`[]`))
	})
	ctx := context.Background()

	if _, err := c.GetOpenOrders(ctx, ""); err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if _, err := c.GetAllOrders(ctx, "BTCUSDT", 10); err != nil {
		t.Fatalf("GetAllOrders: %v", err)
	}
	if _, err := c.GetIncome(ctx, "", "FUNDING_FEE", 0); err != nil {
		t.Fatalf("GetIncome: %v", err)
	}
	if _, err := c.FundingRates(ctx, "ETHUSDT", 1); err != nil {
		t.Fatalf("FundingRates: %v", err)
	}

	expected := []string{
		"/fapi/v1/openOrders?",
		"/fapi/v1/allOrders?limit=10&symbol=BTCUSDT",
		"/fapi/v1/income?incomeType=FUNDING_FEE",
		"/fapi/v1/fundingRate?limit=1&symbol=ETHUSDT",
	}
	if len(paths) != len(expected) {
		t.Fatalf("paths=%v", paths)
	}
	for i := range expected {
		if paths[i] != expected[i] {
			t.Fatalf("request %d=%s, expected %s", i, paths[i], expected[i])
		}
	}
}
