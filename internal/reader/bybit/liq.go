package bybit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
	"liqflow/internal/symbols"
)

const (
	DefaultURL          = "wss://stream.bybit.com/v5/public/linear"
	defaultPingInterval = 20 * time.Second
	topicPrefix         = "liquidation."
)

var DefaultTopics = []string{"liquidation.BTCUSDT"}

type envelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// liquidation is the v5 public liquidation item. Older payloads carry the
// quantity under qty instead of size.
type liquidation struct {
	Symbol string              `json:"symbol"`
	Side   string              `json:"side"`
	Size   decimal.NullDecimal `json:"size"`
	Qty    decimal.NullDecimal `json:"qty"`
	Price  decimal.NullDecimal `json:"price"`
}

// Connector decodes Bybit linear perpetual liquidations.
type Connector struct {
	url          string
	topics       []string
	pingInterval time.Duration
	asset        string
	clock        reader.Clock
}

func New(cfg appconfig.BybitSourceConfig, asset string, clock reader.Clock) *Connector {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	topics := make([]string, 0, len(cfg.Topics))
	for _, t := range cfg.Topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, topicPrefix) {
			t = topicPrefix + strings.ToUpper(t)
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	return &Connector{url: url, topics: topics, pingInterval: interval, asset: asset, clock: clock}
}

func (c *Connector) Exchange() models.Exchange { return models.Bybit }
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

func (c *Connector) PingInterval() time.Duration { return c.pingInterval }

func (c *Connector) Ping(w reader.Writer) error {
	return w.WriteJSON(map[string]string{"op": "ping"})
}

func (c *Connector) Handle(f reader.Frame, w reader.Writer) ([]models.Liquidation, error) {
	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, fmt.Errorf("decode bybit frame: %w", err)
	}
	if env.Op == "ping" {
		if w == nil {
			return nil, nil
		}
		return nil, w.WriteJSON(map[string]string{"op": "pong"})
	}
	if !strings.HasPrefix(env.Topic, topicPrefix) || len(env.Data) == 0 {
		return nil, nil
	}

	items, err := decodeItems(env.Data)
	if err != nil {
		return nil, err
	}

	var (
		events []models.Liquidation
		errs   []error
	)
	for _, item := range items {
		if !symbols.Contains(item.Symbol, c.asset) {
			continue
		}
		ev, err := c.normalize(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

// decodeItems accepts the data field as a single object or as an array.
func decodeItems(raw json.RawMessage) ([]liquidation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []liquidation
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode bybit data: %w", err)
		}
		return items, nil
	}
	var item liquidation
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode bybit data: %w", err)
	}
	return []liquidation{item}, nil
}

func (c *Connector) normalize(item liquidation) (models.Liquidation, error) {
	side, err := models.SideFromOrderSide(item.Side)
	if err != nil {
		return models.Liquidation{}, err
	}
	size := item.Size
	if !size.Valid {
		size = item.Qty
	}
	qty, err := models.Required(size, "size")
	if err != nil {
		return models.Liquidation{}, err
	}
	price, err := models.Required(item.Price, "price")
	if err != nil {
		return models.Liquidation{}, err
	}
	return models.NewLiquidation(models.Bybit, symbols.Normalize(models.Bybit, item.Symbol), side, qty, price, c.clock.Now())
}
