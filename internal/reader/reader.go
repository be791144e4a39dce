package reader

import (
	"time"

	"github.com/gorilla/websocket"

	"liqflow/internal/models"
)

// Writer is the write half of a websocket session handed to connectors.
// Writes are serialized by the supervisor.
type Writer interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
}

// Frame is one inbound websocket message.
type Frame struct {
	Type int
	Data []byte
}

func (f Frame) Binary() bool {
	return f.Type == websocket.BinaryMessage
}

// Connector adapts one exchange's liquidation feed to the canonical model.
// The supervisor owns the connection lifecycle; a connector only knows the
// endpoint, the handshake and how to decode a frame.
type Connector interface {
	Exchange() models.Exchange
	Endpoint() string
	// Subscribe sends the subscribe handshake right after dialing.
	Subscribe(w Writer) error
	// Handle decodes one frame into zero or more events. It may write protocol
	// replies such as pongs. An error reports the part of the frame that was
	// skipped; any events returned alongside it are still valid.
	Handle(f Frame, w Writer) ([]models.Liquidation, error)
}

// Pinger is implemented by connectors whose venue expects application-level
// pings on a fixed interval.
type Pinger interface {
	PingInterval() time.Duration
	Ping(w Writer) error
}

// Publisher receives every decoded event in production order.
type Publisher interface {
	Publish(ev models.Liquidation)
}

type PublisherFunc func(models.Liquidation)

func (f PublisherFunc) Publish(ev models.Liquidation) { f(ev) }

// Clock stamps events at ingestion. A nil Clock uses time.Now.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
