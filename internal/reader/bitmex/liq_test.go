package bitmex

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
)

type recorder struct{ sent []string }

func (r *recorder) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, string(raw))
	return nil
}

func (r *recorder) WriteMessage(_ int, data []byte) error {
	r.sent = append(r.sent, string(data))
	return nil
}

func text(s string) reader.Frame {
	return reader.Frame{Type: websocket.TextMessage, Data: []byte(s)}
}

func newConnector() *Connector {
	return New(appconfig.BitmexSourceConfig{}, "BTC", func() time.Time { return time.Unix(1700000000, 0) })
}

func TestSubscribePayload(t *testing.T) {
	rec := &recorder{}
	if err := newConnector().Subscribe(rec); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if want := `{"op":"subscribe","args":["liquidation"]}`; rec.sent[0] != want {
		t.Fatalf("subscribe = %s, want %s", rec.sent[0], want)
	}
}

func TestPingIsPlainText(t *testing.T) {
	c := newConnector()
	var _ reader.Pinger = c
	rec := &recorder{}
	if err := c.Ping(rec); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if rec.sent[0] != "ping" || c.PingInterval() != 20*time.Second {
		t.Fatalf("unexpected ping %v every %s", rec.sent, c.PingInterval())
	}
}

func TestHandleInverseContract(t *testing.T) {
	msg := `{"table":"liquidation","action":"insert","data":[{"orderID":"a","symbol":"XBTUSD","side":"Sell","price":50000,"leavesQty":1000}]}`
	events, err := newConnector().Handle(text(msg), nil)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %d, err = %v", len(events), err)
	}
	ev := events[0]
	if !ev.Quantity.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("quantity = %s, want 0.02", ev.Quantity)
	}
	if !ev.Notional.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("notional = %s, want 1000", ev.Notional)
	}
	if ev.Side != models.Long || ev.Symbol != "BTCUSD" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHandleLinearContract(t *testing.T) {
	msg := `{"table":"liquidation","action":"insert","data":[{"orderID":"b","symbol":"BTCUSDT","side":"Buy","price":62000,"leavesQty":0.2}]}`
	events, err := newConnector().Handle(text(msg), nil)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %d, err = %v", len(events), err)
	}
	ev := events[0]
	if ev.Side != models.Short || !ev.Quantity.Equal(decimal.RequireFromString("0.2")) || !ev.Notional.Equal(decimal.NewFromInt(12400)) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHandleIgnoresNonInserts(t *testing.T) {
	c := newConnector()
	for _, f := range []string{
		`{"info":"Welcome to the BitMEX Realtime API.","version":"2.0.0"}`,
		`{"success":true,"subscribe":"liquidation","request":{"op":"subscribe","args":["liquidation"]}}`,
		`{"table":"liquidation","action":"update","data":[{"orderID":"a","symbol":"XBTUSD","leavesQty":500}]}`,
		`{"table":"liquidation","action":"delete","data":[{"orderID":"a","symbol":"XBTUSD"}]}`,
		`{"table":"liquidation","action":"insert","data":[{"orderID":"c","symbol":"ETHUSD","side":"Sell","price":3000,"leavesQty":10}]}`,
		`{"table":"trade","action":"insert","data":[{"symbol":"XBTUSD","side":"Sell","price":1,"size":1}]}`,
		"pong",
	} {
		events, err := c.Handle(text(f), nil)
		if err != nil || len(events) != 0 {
			t.Fatalf("frame %s: %d events, %v", f, len(events), err)
		}
	}
}

func TestHandleInvalidRows(t *testing.T) {
	c := newConnector()
	zero := `{"table":"liquidation","action":"insert","data":[{"orderID":"z","symbol":"XBTUSD","side":"Sell","price":0,"leavesQty":100}]}`
	if _, err := c.Handle(text(zero), nil); !errors.Is(err, models.ErrZeroPrice) {
		t.Fatalf("expected ErrZeroPrice, got %v", err)
	}
	missing := `{"table":"liquidation","action":"insert","data":[{"orderID":"m","symbol":"XBTUSD","side":"Sell","leavesQty":100}]}`
	if _, err := c.Handle(text(missing), nil); !errors.Is(err, models.ErrMissingNumber) {
		t.Fatalf("expected ErrMissingNumber, got %v", err)
	}
	if _, err := c.Handle(text(`{"error":"Unknown table: liq"}`), nil); err == nil {
		t.Fatalf("expected error frame to surface")
	}
}
