package htx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
	"liqflow/internal/symbols"
)

const DefaultURL = "wss://api.hbdm.com/linear-swap-notification"

var DefaultContracts = []string{"BTC-USDT"}

type envelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Ts    json.RawMessage `json:"ts"`
	Data  []liquidation   `json:"data"`
}

type liquidation struct {
	ContractCode string              `json:"contract_code"`
	Direction    string              `json:"direction"`
	Offset       string              `json:"offset"`
	Amount       decimal.NullDecimal `json:"amount"`
	Price        decimal.NullDecimal `json:"price"`
}

// Connector decodes HTX USDT-margined swap liquidation notifications. Every
// frame from this endpoint is gzip compressed.
type Connector struct {
	url       string
	contracts []string
	asset     string
	clock     reader.Clock
}

func New(cfg appconfig.HtxSourceConfig, asset string, clock reader.Clock) *Connector {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	contracts := make([]string, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			contracts = append(contracts, c)
		}
	}
	if len(contracts) == 0 {
		contracts = DefaultContracts
	}
	return &Connector{url: url, contracts: contracts, asset: asset, clock: clock}
}

func (c *Connector) Exchange() models.Exchange { return models.HTX }
func (c *Connector) Endpoint() string          { return c.url }

func topic(contract string) string {
	return "public." + contract + ".liquidation_orders"
}

func (c *Connector) Subscribe(w reader.Writer) error {
	for _, contract := range c.contracts {
		req := struct {
			Op    string `json:"op"`
			Cid   string `json:"cid"`
			Topic string `json:"topic"`
		}{
			Op:    "sub",
			Cid:   uuid.NewString(),
			Topic: topic(contract),
		}
		if err := w.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", contract, err)
		}
	}
	return nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func (c *Connector) Handle(f reader.Frame, w reader.Writer) ([]models.Liquidation, error) {
	data := f.Data
	if f.Binary() {
		raw, err := decompress(f.Data)
		if err != nil {
			return nil, fmt.Errorf("gunzip htx frame: %w", err)
		}
		data = raw
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode htx frame: %w", err)
	}

	switch env.Op {
	case "ping":
		if w == nil {
			return nil, nil
		}
		pong := struct {
			Op string          `json:"op"`
			Ts json.RawMessage `json:"ts"`
		}{
			Op: "pong",
			Ts: env.Ts,
		}
		return nil, w.WriteJSON(pong)
	case "notify":
	default:
		return nil, nil
	}
	if !strings.HasSuffix(env.Topic, ".liquidation_orders") {
		return nil, nil
	}

	var (
		events []models.Liquidation
		errs   []error
	)
	for _, item := range env.Data {
		if !symbols.HasBase(item.ContractCode, c.asset) {
			continue
		}
		ev, err := c.normalize(item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.ContractCode, err))
			continue
		}
		events = append(events, ev)
	}
	return events, errors.Join(errs...)
}

func (c *Connector) normalize(item liquidation) (models.Liquidation, error) {
	side, err := models.SideFromOrderSide(item.Direction)
	if err != nil {
		return models.Liquidation{}, err
	}
	qty, err := models.Required(item.Amount, "amount")
	if err != nil {
		return models.Liquidation{}, err
	}
	price, err := models.Required(item.Price, "price")
	if err != nil {
		return models.Liquidation{}, err
	}
	return models.NewLiquidation(models.HTX, symbols.Normalize(models.HTX, item.ContractCode), side, qty, price, c.clock.Now())
}
