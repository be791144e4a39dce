package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewLiquidationNotional(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ev, err := NewLiquidation(Binance, "BTCUSDT", Long, d("0.5"), d("60000"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Notional.Equal(d("30000")) {
		t.Fatalf("notional = %s, want 30000", ev.Notional)
	}
	if ev.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if !ev.ObservedAt.Equal(now) {
		t.Fatalf("observed_at = %v", ev.ObservedAt)
	}
}

func TestNewLiquidationValidation(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		exchange Exchange
		side     Side
		qty      string
		price    string
		want     error
	}{
		{"exchange", Exchange("Kraken"), Long, "1", "1", ErrInvalidExchange},
		{"side", Binance, Side("Flat"), "1", "1", ErrInvalidSide},
		{"quantity", Binance, Long, "-1", "1", ErrNegativeQuantity},
		{"price", Binance, Short, "1", "-1", ErrNegativePrice},
	}
	for _, c := range cases {
		_, err := NewLiquidation(c.exchange, "BTCUSDT", c.side, d(c.qty), d(c.price), now)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: err = %v, want %v", c.name, err, c.want)
		}
	}
}

func TestNewInverseLiquidation(t *testing.T) {
	ev, err := NewInverseLiquidation(BitMEX, "XBTUSD", Long, d("1000"), d("50000"), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Quantity.Equal(d("0.02")) {
		t.Fatalf("quantity = %s, want 0.02", ev.Quantity)
	}
	if !ev.Notional.Equal(d("1000")) {
		t.Fatalf("notional = %s, want 1000", ev.Notional)
	}

	if _, err := NewInverseLiquidation(BitMEX, "XBTUSD", Long, d("1000"), d("0"), time.Now()); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("expected ErrZeroPrice, got %v", err)
	}
}

func TestSideMappings(t *testing.T) {
	order := map[string]Side{"SELL": Long, "sell": Long, "Sell": Long, "BUY": Short, "buy": Short, "Buy": Short}
	for in, want := range order {
		got, err := SideFromOrderSide(in)
		if err != nil || got != want {
			t.Errorf("SideFromOrderSide(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := SideFromOrderSide("hold"); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}

	pos := map[string]Side{"long": Long, "short": Short}
	for in, want := range pos {
		got, err := SideFromPositionSide(in)
		if err != nil || got != want {
			t.Errorf("SideFromPositionSide(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := SideFromPositionSide("net"); err == nil {
		t.Errorf("net should not map to a side")
	}
	if Long.Label() != "Long REKT" || Short.Label() != "Short REKT" {
		t.Errorf("unexpected labels %q %q", Long.Label(), Short.Label())
	}
}

func TestParseDecimal(t *testing.T) {
	if _, err := ParseDecimal(""); !errors.Is(err, ErrMissingNumber) {
		t.Fatalf("empty input should be ErrMissingNumber, got %v", err)
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatalf("expected parse error")
	}
	v, err := ParseDecimal(" 0.015 ")
	if err != nil || !v.Equal(d("0.015")) {
		t.Fatalf("ParseDecimal = %s, %v", v, err)
	}
	if _, err := Required(decimal.NullDecimal{}, "sz"); !errors.Is(err, ErrMissingNumber) {
		t.Fatalf("Required on null should fail, got %v", err)
	}
}

func TestParseExchange(t *testing.T) {
	e, err := ParseExchange("bitmex")
	if err != nil || e != BitMEX {
		t.Fatalf("ParseExchange = %q, %v", e, err)
	}
	if _, err := ParseExchange("ftx"); !errors.Is(err, ErrInvalidExchange) {
		t.Fatalf("expected ErrInvalidExchange, got %v", err)
	}
}

func TestLineFieldOrder(t *testing.T) {
	ev, _ := NewLiquidation(Binance, "BTCUSDT", Long, d("0.5"), d("60000"), time.Now())
	line := ev.Line("BTC")
	want := "🟢 Binance Long REKT 🟢 0.5000 BTC @ $60,000 💥 $30,000.00 💥"
	if line != want {
		t.Fatalf("line = %q, want %q", line, want)
	}

	short, _ := NewLiquidation(OKX, "BTC-USDT-SWAP", Short, d("2"), d("61000"), time.Now())
	line = short.Line("BTC")
	order := []string{"OKX", "Short REKT", "2.0000", "$61,000", "$122,000.00"}
	pos := 0
	for _, part := range order {
		i := strings.Index(line[pos:], part)
		if i < 0 {
			t.Fatalf("%q missing or out of order in %q", part, line)
		}
		pos += i + len(part)
	}
}
