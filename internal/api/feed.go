package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/events"
)

const feedWriteWait = 5 * time.Second

// EventFeed relays bus events to websocket subscribers as JSON text
// messages. Delivery order follows the bus, which does not order events.
type EventFeed struct {
	mu          sync.Mutex
	subscribers map[*feedSubscriber]struct{}
	upgrader    websocket.Upgrader
}

type feedSubscriber struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	types map[events.EventType]bool // nil means every type
}

// NewEventFeed creates a feed. checkOrigin may be nil to accept any origin.
func NewEventFeed(checkOrigin func(r *http.Request) bool) *EventFeed {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &EventFeed{
		subscribers: make(map[*feedSubscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Subscribe attaches the feed to the bus.
func (f *EventFeed) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll("api.feed", f.broadcast)
}

// Count returns the number of connected subscribers.
func (f *EventFeed) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *EventFeed) broadcast(_ context.Context, event events.Event) error {
	f.mu.Lock()
	subs := make([]*feedSubscriber, 0, len(f.subscribers))
	for sub := range f.subscribers {
		if sub.types == nil || sub.types[event.Type] {
			subs = append(subs, sub)
		}
	}
	f.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		err := sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Msg("event feed subscriber dropped")
			f.remove(sub)
		}
	}
	return nil
}

func (f *EventFeed) remove(sub *feedSubscriber) {
	f.mu.Lock()
	_, ok := f.subscribers[sub]
	delete(f.subscribers, sub)
	f.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}

// parseTypes reads a comma separated event type filter.
func parseTypes(raw string) (map[events.EventType]bool, bool) {
	if raw == "" {
		return nil, true
	}
	known := make(map[events.EventType]bool, len(events.AllEventTypes))
	for _, t := range events.AllEventTypes {
		known[t] = true
	}
	out := make(map[events.EventType]bool)
	for _, name := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(name))
		if !known[t] {
			return nil, false
		}
		out[t] = true
	}
	return out, true
}

// handleEvents upgrades the request and streams events until the client
// goes away. The optional types query narrows the stream.
func (f *EventFeed) handleEvents(c *gin.Context) {
	types, ok := parseTypes(c.Query("types"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}

	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("event feed upgrade failed")
		return
	}

	sub := &feedSubscriber{conn: conn, types: types}
	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()

	log.Debug().Str("client_ip", c.ClientIP()).Msg("event feed subscriber connected")

	// Inbound messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			f.remove(sub)
			return
		}
	}
}

// Close disconnects every subscriber.
func (f *EventFeed) Close() {
	f.mu.Lock()
	subs := f.subscribers
	f.subscribers = make(map[*feedSubscriber]struct{})
	f.mu.Unlock()

	for sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(time.Second))
		sub.mu.Unlock()
		sub.conn.Close()
	}
}
