package bitmex

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
	"liqflow/internal/symbols"
)

const (
	DefaultURL          = "wss://ws.bitmex.com/realtime"
	defaultPingInterval = 20 * time.Second
	table               = "liquidation"
)

var DefaultTopics = []string{"liquidation"}

type envelope struct {
	Table  string        `json:"table"`
	Action string        `json:"action"`
	Data   []liquidation `json:"data"`
	Error  string        `json:"error"`
}

type liquidation struct {
	OrderID   string              `json:"orderID"`
	Symbol    string              `json:"symbol"`
	Side      string              `json:"side"`
	Price     decimal.NullDecimal `json:"price"`
	LeavesQty decimal.NullDecimal `json:"leavesQty"`
}

// Connector decodes BitMEX liquidation table inserts. XBT instruments are
// inverse contracts quoted in USD, so their quantity is converted to XBT.
type Connector struct {
	url    string
	topics []string
	asset  string
	clock  reader.Clock
}

func New(cfg appconfig.BitmexSourceConfig, asset string, clock reader.Clock) *Connector {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	return &Connector{url: url, topics: topics, asset: asset, clock: clock}
}

func (c *Connector) Exchange() models.Exchange { return models.BitMEX }
func (c *Connector) Endpoint() string          { return c.url }

func (c *Connector) Subscribe(w reader.Writer) error {
	req := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{
		Op:   "subscribe",
		Args: c.topics,
	}
	return w.WriteJSON(req)
}

func (c *Connector) PingInterval() time.Duration { return defaultPingInterval }

// Ping sends the plain-text keepalive; the venue answers "pong".
func (c *Connector) Ping(w reader.Writer) error {
	return w.WriteMessage(websocket.TextMessage, []byte("ping"))
}

func (c *Connector) Handle(f reader.Frame, _ reader.Writer) ([]models.Liquidation, error) {
	if string(f.Data) == "pong" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, fmt.Errorf("decode bitmex frame: %w", err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("bitmex error: %s", env.Error)
	}
	// update and delete rows only carry the order id of an earlier insert.
	if env.Table != table || (env.Action != "insert" && env.Action != "") {
		return nil, nil
	}

	var (
		events []models.Liquidation
		errs   []error
	)
	for _, item := range env.Data {
		if !symbols.Contains(item.Symbol, c.asset) {
			continue
		}
		ev, err := c.normalize(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", item.OrderID, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

func (c *Connector) normalize(item liquidation) (models.Liquidation, error) {
	side, err := models.SideFromOrderSide(item.Side)
	if err != nil {
		return models.Liquidation{}, err
	}
	qty, err := models.Required(item.LeavesQty, "leavesQty")
	if err != nil {
		return models.Liquidation{}, err
	}
	price, err := models.Required(item.Price, "price")
	if err != nil {
		return models.Liquidation{}, err
	}

	symbol := symbols.Normalize(models.BitMEX, item.Symbol)
	if symbols.IsInverse(item.Symbol) {
		return models.NewInverseLiquidation(models.BitMEX, symbol, side, qty, price, c.clock.Now())
	}
	return models.NewLiquidation(models.BitMEX, symbol, side, qty, price, c.clock.Now())
}
