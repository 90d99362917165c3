package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	joinRef           = "1"
	heartbeatInterval = 25 * time.Second
	writeTimeout      = 5 * time.Second
	eventBuffer       = 64
)

var emptyPayload = json.RawMessage(`{}`)

// frame is the wire envelope for realtime traffic.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// insertPayload carries the inserted row of an INSERT notification.
type insertPayload struct {
	Record Message `json:"record"`
}

// Subscription is a live feed of message rows inserted into one chat.
// It must be released with Close; Close must complete before a
// subscription for another chat is opened so only one listener
// delivers into the thread at a time.
type Subscription struct {
	conn   *websocket.Conn
	topic  string
	logger *zap.Logger

	events chan Message
	done   chan struct{}
	once   sync.Once
	ref    atomic.Int64

	writeMu sync.Mutex
}

// Subscribe opens a realtime subscription scoped to insert events on
// the messages table filtered to the given chat.
func (c *Client) Subscribe(ctx context.Context, chatID string) (*Subscription, error) {
	wsURL, err := realtimeURL(c.baseURL, c.apiKey)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	s := &Subscription{
		conn:   conn,
		topic:  "realtime:public:messages:chat_id=eq." + chatID,
		logger: c.logger,
		events: make(chan Message, eventBuffer),
		done:   make(chan struct{}),
	}
	s.ref.Store(1)

	join := frame{Topic: s.topic, Event: "phx_join", Ref: joinRef, Payload: emptyPayload}
	if err := s.write(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join topic: %w", err)
	}

	go s.readLoop()
	go s.heartbeatLoop()

	c.logger.Info("realtime subscription opened", zap.String("topic", s.topic))
	return s, nil
}

// Events returns the channel delivering inserted messages. It is
// closed after Close or when the connection drops.
func (s *Subscription) Events() <-chan Message {
	return s.events
}

// Close leaves the topic and tears the connection down. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.write(frame{Topic: s.topic, Event: "phx_leave", Ref: s.nextRef(), Payload: emptyPayload})
		_ = s.conn.Close()
		s.logger.Info("realtime subscription closed", zap.String("topic", s.topic))
	})
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("realtime read failed", zap.String("topic", s.topic), zap.Error(err))
			}
			return
		}
		if f.Topic != s.topic {
			continue
		}
		switch f.Event {
		case "INSERT":
			var p insertPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				s.logger.Warn("realtime payload decode failed", zap.Error(err))
				continue
			}
			select {
			case s.events <- p.Record:
			default:
				s.logger.Warn("realtime event dropped, subscriber full", zap.String("topic", s.topic))
			}
		case "phx_error":
			s.logger.Warn("realtime channel error", zap.String("topic", s.topic))
		}
	}
}

func (s *Subscription) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hb := frame{Topic: "phoenix", Event: "heartbeat", Ref: s.nextRef(), Payload: emptyPayload}
			if err := s.write(hb); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(f)
}

func (s *Subscription) nextRef() string {
	return strconv.FormatInt(s.ref.Add(1), 10)
}

func realtimeURL(base, apiKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path.Join(u.Path, "realtime/v1/websocket")
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
