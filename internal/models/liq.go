package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrInvalidExchange  = errors.New("invalid exchange")
	ErrInvalidSide      = errors.New("invalid side")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrNegativePrice    = errors.New("price must not be negative")
	ErrZeroPrice        = errors.New("price must be positive for inverse contracts")
	ErrMissingNumber    = errors.New("missing numeric field")
)

// Exchange identifies one of the supported liquidation sources.
type Exchange string

const (
	Binance Exchange = "Binance"
	OKX     Exchange = "OKX"
	Bybit   Exchange = "Bybit"
	BitMEX  Exchange = "BitMEX"
	HTX     Exchange = "HTX"
)

// Exchanges lists every supported exchange in display order.
var Exchanges = []Exchange{Binance, OKX, Bybit, BitMEX, HTX}

func (e Exchange) Valid() bool {
	switch e {
	case Binance, OKX, Bybit, BitMEX, HTX:
		return true
	}
	return false
}

// ParseExchange matches names case-insensitively.
func ParseExchange(s string) (Exchange, error) {
	for _, e := range Exchanges {
		if strings.EqualFold(string(e), strings.TrimSpace(s)) {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExchange, s)
}

// Side is the position direction that was force-closed.
type Side string

const (
	Long  Side = "Long"
	Short Side = "Short"
)

func (s Side) Valid() bool {
	return s == Long || s == Short
}

// Label returns the outbound label, e.g. "Long REKT".
func (s Side) Label() string {
	return string(s) + " REKT"
}

func (s Side) emoji() string {
	if s == Long {
		return "🟢"
	}
	return "🔴"
}

// SideFromOrderSide maps the side of the liquidation order to the side of the
// position it closed: a forced sell closes a long.
func SideFromOrderSide(orderSide string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(orderSide)) {
	case "sell":
		return Long, nil
	case "buy":
		return Short, nil
	}
	return "", fmt.Errorf("%w: order side %q", ErrInvalidSide, orderSide)
}

// SideFromPositionSide maps an explicit position side ("long"/"short").
func SideFromPositionSide(posSide string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(posSide)) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	}
	return "", fmt.Errorf("%w: position side %q", ErrInvalidSide, posSide)
}

// Liquidation is the canonical normalized event. It is immutable once built
// and is passed by value.
type Liquidation struct {
	ID         string          `json:"id"`
	Exchange   Exchange        `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	ObservedAt time.Time       `json:"observed_at"`
}

func validate(exchange Exchange, side Side, qty, price decimal.Decimal) error {
	if !exchange.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
	}
	if !side.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if qty.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeQuantity, qty)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativePrice, price)
	}
	return nil
}

// NewLiquidation builds a linear-contract event with notional = qty * price.
func NewLiquidation(exchange Exchange, symbol string, side Side, qty, price decimal.Decimal, observedAt time.Time) (Liquidation, error) {
	if err := validate(exchange, side, qty, price); err != nil {
		return Liquidation{}, err
	}
	return Liquidation{
		ID:         uuid.NewString(),
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Notional:   qty.Mul(price),
		ObservedAt: observedAt,
	}, nil
}

// NewInverseLiquidation builds an event for a quote-denominated contract where
// contracts are worth one USD each: quantity = contracts / price and
// notional = contracts.
func NewInverseLiquidation(exchange Exchange, symbol string, side Side, contracts, price decimal.Decimal, observedAt time.Time) (Liquidation, error) {
	if err := validate(exchange, side, contracts, price); err != nil {
		return Liquidation{}, err
	}
	if !price.IsPositive() {
		return Liquidation{}, ErrZeroPrice
	}
	return Liquidation{
		ID:         uuid.NewString(),
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       side,
		Quantity:   contracts.Div(price),
		Price:      price,
		Notional:   contracts,
		ObservedAt: observedAt,
	}, nil
}

// ParseDecimal parses a wire number, rejecting empty strings.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrMissingNumber
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// Required unwraps a NullDecimal decoded from JSON.
func Required(n decimal.NullDecimal, field string) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingNumber, field)
	}
	return n.Decimal, nil
}

var printer = message.NewPrinter(language.English)

// Line renders the event as one human readable line:
// exchange, side label, quantity, price then notional.
func (l Liquidation) Line(asset string) string {
	e := l.Side.emoji()
	return printer.Sprintf("%s %s %s %s %s %s @ $%.0f 💥 $%.2f 💥",
		e, l.Exchange, l.Side.Label(), e,
		l.Quantity.StringFixed(4), asset,
		l.Price.InexactFloat64(), l.Notional.InexactFloat64())
}
