package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Event is a single frame of the socket protocol: a type tag plus a raw
// payload. ConnID and Sender are filled in by the transport on receipt and are
// never serialized.
type Event struct {
	ConnID  int             `json:"-"`
	Sender  Identity        `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{ConnID: %d, Sender: %s, Type: %s, Payload.Size: %d}",
		e.ConnID, e.Sender.UserID, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// EventTransport delivers events to connections by connection id.
type EventTransport interface {
	SendToConns(event *Event, connIDs ...int)
	Receive() <-chan *Event
}

type EventHandler func(context.Context, *Event) error

// EventRouter dispatches inbound events to registered handlers. Handler
// failures are reported through the error callback (where the gateway converts
// them to an error event on the originating connection) and never crash the
// process.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	transport EventTransport
	logger    *slog.Logger
	onError   func(e *Event, err error)
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
	}
}

func (em *EventRouter) On(eventName string, handler EventHandler) {
	em.listeners[eventName] = handler
}

// OnError registers the callback invoked when a handler returns an error.
func (em *EventRouter) OnError(f func(e *Event, err error)) {
	em.onError = f
}

func (em *EventRouter) Listen(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-em.ctx.Done():
			return
		case e, ok := <-em.transport.Receive():
			if !ok {
				return
			}
			em.logger.Debug(fmt.Sprintf("received: %v", e))
			handler, ok := em.listeners[e.Type]
			if !ok {
				em.logger.Warn(fmt.Sprintf("no handler for event: %s", e.Type))
				continue
			}
			go func() {
				if err := handler(em.ctx, e); err != nil {
					em.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
					if em.onError != nil {
						em.onError(e, err)
					}
				}
			}()
		}
	}
}

// EmitToConns sends an event to the given connections.
func (em *EventRouter) EmitToConns(t string, payload interface{}, connIDs ...int) error {
	if len(connIDs) == 0 {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	e := &Event{
		Type:    t,
		Payload: b,
	}
	em.transport.SendToConns(e, connIDs...)
	return nil
}
