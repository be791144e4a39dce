package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	futures "github.com/adshao/go-binance/v2/futures"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
	"liqflow/internal/symbols"
)

const (
	DefaultURL       = "wss://fstream.binance.com/ws"
	forceOrderEvent  = "forceOrder"
	forceOrderSuffix = "@forceOrder"
)

// DefaultStreams follows the USDT and USDC margined BTC perpetuals.
var DefaultStreams = []string{"btcusdt@forceOrder", "btcusdc@forceOrder"}

// Connector decodes Binance USDⓈ-M futures force orders.
type Connector struct {
	url     string
	streams []string
	asset   string
	clock   reader.Clock
}

func New(cfg appconfig.BinanceSourceConfig, asset string, clock reader.Clock) *Connector {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	streams := make([]string, 0, len(cfg.Streams))
	for _, s := range cfg.Streams {
		s = strings.TrimSpace(s)
		if i := strings.Index(s, "@"); i >= 0 {
			s = s[:i]
		}
		if s != "" {
			streams = append(streams, strings.ToLower(s)+forceOrderSuffix)
		}
	}
	if len(streams) == 0 {
		streams = DefaultStreams
	}
	return &Connector{url: url, streams: streams, asset: asset, clock: clock}
}

func (c *Connector) Exchange() models.Exchange { return models.Binance }
func (c *Connector) Endpoint() string          { return c.url }

func (c *Connector) Subscribe(w reader.Writer) error {
	req := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{
		Method: "SUBSCRIBE",
		Params: c.streams,
		ID:     1,
	}
	return w.WriteJSON(req)
}

func (c *Connector) Handle(f reader.Frame, _ reader.Writer) ([]models.Liquidation, error) {
	var event futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(f.Data, &event); err != nil {
		return nil, fmt.Errorf("decode binance frame: %w", err)
	}
	if event.Event != forceOrderEvent {
		return nil, nil
	}

	order := event.LiquidationOrder
	if !symbols.Contains(order.Symbol, c.asset) {
		return nil, nil
	}

	side, err := models.SideFromOrderSide(string(order.Side))
	if err != nil {
		return nil, err
	}
	qty, err := models.ParseDecimal(order.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("binance quantity: %w", err)
	}
	price, err := models.ParseDecimal(order.Price)
	if err != nil {
		return nil, fmt.Errorf("binance price: %w", err)
	}

	ev, err := models.NewLiquidation(models.Binance, symbols.Normalize(models.Binance, order.Symbol), side, qty, price, c.clock.Now())
	if err != nil {
		return nil, err
	}
	return []models.Liquidation{ev}, nil
}
