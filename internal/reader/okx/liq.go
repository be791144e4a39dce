package okx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/reader"
	"liqflow/internal/symbols"
)

const (
	DefaultURL          = "wss://ws.okx.com:8443/ws/v5/public"
	ChannelOrders       = "liquidation-orders"
	ChannelLiquidation  = "liquidation"
	defaultInstType     = "SWAP"
	defaultPingInterval = 25 * time.Second
)

type subscribeArg struct {
	Channel  string `json:"channel"`
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId,omitempty"`
}

type envelope struct {
	Event string       `json:"event"`
	Code  string       `json:"code"`
	Msg   string       `json:"msg"`
	Arg   subscribeArg `json:"arg"`
	Data  []order      `json:"data"`
}

// order covers both channel shapes: liquidation-orders nests fills under
// details, the plain liquidation channel puts them on the order itself.
type order struct {
	InstID     string              `json:"instId"`
	InstFamily string              `json:"instFamily"`
	Details    []detail            `json:"details"`
	Side       string              `json:"side"`
	PosSide    string              `json:"posSide"`
	Sz         decimal.NullDecimal `json:"sz"`
	BkPx       decimal.NullDecimal `json:"bkPx"`
}

type detail struct {
	Side    string              `json:"side"`
	PosSide string              `json:"posSide"`
	Sz      decimal.NullDecimal `json:"sz"`
	BkPx    decimal.NullDecimal `json:"bkPx"`
}

// Connector decodes OKX public liquidation pushes.
type Connector struct {
	url   string
	arg   subscribeArg
	asset string
	clock reader.Clock
}

func New(cfg appconfig.OkxSourceConfig, asset string, clock reader.Clock) *Connector {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	arg := subscribeArg{Channel: cfg.Channel, InstType: cfg.InstType, InstID: cfg.InstID}
	if arg.Channel == "" {
		arg.Channel = ChannelOrders
	}
	if arg.InstType == "" {
		arg.InstType = defaultInstType
	}
	return &Connector{url: url, arg: arg, asset: asset, clock: clock}
}

func (c *Connector) Exchange() models.Exchange { return models.OKX }
func (c *Connector) Endpoint() string          { return c.url }

func (c *Connector) Subscribe(w reader.Writer) error {
	req := struct {
		Op   string         `json:"op"`
		Args []subscribeArg `json:"args"`
	}{
		Op:   "subscribe",
		Args: []subscribeArg{c.arg},
	}
	return w.WriteJSON(req)
}

// OKX drops sessions that stay silent for 30 seconds.
func (c *Connector) PingInterval() time.Duration { return defaultPingInterval }

func (c *Connector) Ping(w reader.Writer) error {
	return w.WriteMessage(websocket.TextMessage, []byte("ping"))
}

func (c *Connector) Handle(f reader.Frame, _ reader.Writer) ([]models.Liquidation, error) {
	if string(f.Data) == "pong" {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, fmt.Errorf("decode okx frame: %w", err)
	}
	if env.Event == "error" {
		return nil, fmt.Errorf("okx error %s: %s", env.Code, env.Msg)
	}
	if env.Event != "" {
		return nil, nil
	}

	var (
		events []models.Liquidation
		errs   []error
	)
	switch env.Arg.Channel {
	case ChannelOrders:
		for _, o := range env.Data {
			if !c.matches(o) {
				continue
			}
			for _, d := range o.Details {
				ev, err := c.normalize(o.InstID, d.PosSide, d.Side, d.Sz, d.BkPx)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				events = append(events, ev)
			}
		}
	case ChannelLiquidation:
		for _, o := range env.Data {
			if !c.matches(o) {
				continue
			}
			ev, err := c.normalize(o.InstID, o.PosSide, o.Side, o.Sz, o.BkPx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, errors.Join(errs...)
}

func (c *Connector) matches(o order) bool {
	return symbols.Contains(o.InstID, c.asset) || symbols.Contains(o.InstFamily, c.asset)
}

// normalize prefers the explicit position side; in net mode posSide is "net"
// and the order side decides.
func (c *Connector) normalize(instID, posSide, orderSide string, sz, bkPx decimal.NullDecimal) (models.Liquidation, error) {
	var (
		side models.Side
		err  error
	)
	switch strings.ToLower(posSide) {
	case "long", "short":
		side, err = models.SideFromPositionSide(posSide)
	default:
		side, err = models.SideFromOrderSide(orderSide)
	}
	if err != nil {
		return models.Liquidation{}, err
	}
	qty, err := models.Required(sz, "sz")
	if err != nil {
		return models.Liquidation{}, err
	}
	price, err := models.Required(bkPx, "bkPx")
	if err != nil {
		return models.Liquidation{}, err
	}
	return models.NewLiquidation(models.OKX, symbols.Normalize(models.OKX, instID), side, qty, price, c.clock.Now())
}
