// Package transport owns the one websocket connection a room session holds
// to the messaging backbone. It multiplexes decoded envelopes out to the
// message store and the presence signaler, and hides socket loss behind a
// fixed-interval reconnect that re-issues the room subscriptions.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/session"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// RetryInterval is the fixed backoff between reconnect attempts.
	RetryInterval = 5 * time.Second

	sendBuffer = 256
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrClosed is returned by Send after teardown.
var ErrClosed = errors.New("transport closed")

// SendError wraps an outbound publish failure. The optimistic local echo
// is not rolled back on SendError; the message stays PENDING for the
// operator to retry or ignore.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// EnvelopeHandler consumes a decoded inbound envelope. Both
// store.IngestRemote and presence.HandleRemote have this shape.
type EnvelopeHandler func(env model.Envelope) error

// Session is one logical connection to the backbone for the lifetime of a
// RoomSession.
type Session struct {
	sess       session.RoomSession
	gatewayURL string
	dialer     *websocket.Dialer
	onChat     EnvelopeHandler
	onPresence EnvelopeHandler

	send  chan []byte
	done  chan struct{}
	once  sync.Once
	retry time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// New builds a session dialing gatewayURL (host:port). Handlers may be nil;
// envelopes of that kind are then dropped.
func New(sess session.RoomSession, gatewayURL string, onChat, onPresence EnvelopeHandler) *Session {
	return &Session{
		sess:       sess,
		gatewayURL: gatewayURL,
		dialer:     websocket.DefaultDialer,
		onChat:     onChat,
		onPresence: onPresence,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		retry:      RetryInterval,
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) wsURL() string {
	u := url.URL{Scheme: "ws", Host: s.gatewayURL, Path: "/ws"}
	q := u.Query()
	q.Set("room", s.sess.RoomID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+s.sess.Token)
	conn, _, err := s.dialer.Dial(s.wsURL(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// subscribe re-attaches this socket to the room's message and presence
// destinations. Issued after every successful dial, including reconnects.
func (s *Session) subscribe(conn *websocket.Conn) error {
	env, err := model.NewEnvelope(model.KindSubscribe, model.SubscribeRequest{RoomID: s.sess.RoomID})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// Connect establishes the transport. The first dial failure is returned to
// the caller; after a successful connect, socket loss is handled by the
// internal reconnect loop and never surfaced per-message.
func (s *Session) Connect() error {
	s.setState(Connecting)
	conn, err := s.dial()
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("dial gateway: %w", err)
	}
	if err := s.subscribe(conn); err != nil {
		conn.Close()
		s.setState(Disconnected)
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.mu.Unlock()

	go s.run(conn)
	return nil
}

// run owns the connection lifecycle: pump the current socket until it
// fails, then redial at a fixed interval until teardown.
func (s *Session) run(conn *websocket.Conn) {
	for {
		s.pump(conn)

		select {
		case <-s.done:
			return
		default:
		}

		s.setState(Reconnecting)
		log.Printf("transport: socket lost for room %s, retrying every %s", s.sess.RoomID, s.retry)

		var err error
		for {
			select {
			case <-s.done:
				return
			case <-time.After(s.retry):
			}

			conn, err = s.dial()
			if err != nil {
				log.Printf("transport: reconnect failed: %v", err)
				continue
			}
			if err = s.subscribe(conn); err != nil {
				log.Printf("transport: resubscribe failed: %v", err)
				conn.Close()
				continue
			}
			break
		}

		s.mu.Lock()
		s.conn = conn
		s.state = Connected
		s.mu.Unlock()
		log.Printf("transport: reconnected to room %s", s.sess.RoomID)
	}
}

// pump services one socket until it dies: a write goroutine drains the
// send buffer and keeps pings flowing, the read loop dispatches inbound
// frames. Returns when the socket is unusable.
func (s *Session) pump(conn *websocket.Conn) {
	connDown := make(chan struct{})
	go s.writePump(conn, connDown)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("transport: read: %v", err)
			}
			break
		}
		s.dispatch(frame)
	}

	close(connDown)
	conn.Close()
}

func (s *Session) writePump(conn *websocket.Conn, connDown chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-connDown:
			return
		case <-s.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch is the single routing point for inbound frames. Malformed
// payloads are logged and dropped; they never crash the session or reach a
// consumer. Nothing is dispatched once teardown has begun.
func (s *Session) dispatch(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Printf("transport: dropping malformed frame: %v", err)
		return
	}

	var handler EnvelopeHandler
	switch env.Kind {
	case model.KindChat:
		handler = s.onChat
	case model.KindPresence:
		handler = s.onPresence
	default:
		log.Printf("transport: dropping envelope of unknown kind %q", env.Kind)
		return
	}
	if handler == nil {
		return
	}
	if err := handler(env); err != nil {
		log.Printf("transport: dropping undecodable %s envelope: %v", env.Kind, err)
	}
}

// Send serializes the envelope and hands it to the write pump. It never
// blocks past serialization and gives no delivery guarantee; confirmation,
// if any, arrives later as a separate inbound event.
func (s *Session) Send(env model.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return &SendError{Err: err}
	}
	select {
	case <-s.done:
		return &SendError{Err: ErrClosed}
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return &SendError{Err: errors.New("send buffer full")}
	}
}

// SendChat publishes an outbound chat message.
func (s *Session) SendChat(m model.Message) error {
	env, err := model.NewEnvelope(model.KindChat, m)
	if err != nil {
		return &SendError{Err: err}
	}
	return s.Send(env)
}

// PublishPresence satisfies presence.Publisher.
func (s *Session) PublishPresence(ev model.PresenceEvent) error {
	env, err := model.NewEnvelope(model.KindPresence, ev)
	if err != nil {
		return &SendError{Err: err}
	}
	return s.Send(env)
}

// Close tears the transport down deterministically. Idempotent; after it
// returns no handler callback fires and the reconnect loop is inert.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.state = Disconnected
		s.mu.Unlock()
	})
}
