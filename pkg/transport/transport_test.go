package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeGateway accepts websocket connections, records subscribe frames, and
// lets tests push raw frames at the client.
type fakeGateway struct {
	t *testing.T

	mu         sync.Mutex
	conns      []*websocket.Conn
	subscribes []model.SubscribeRequest
	inbound    []model.Envelope
}

func (g *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.mu.Unlock()

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		g.mu.Lock()
		if env.Kind == model.KindSubscribe {
			var req model.SubscribeRequest
			json.Unmarshal(env.Payload, &req)
			g.subscribes = append(g.subscribes, req)
		} else {
			g.inbound = append(g.inbound, env)
		}
		g.mu.Unlock()
	}
}

func (g *fakeGateway) push(frame []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(g.t, g.conns)
	conn := g.conns[len(g.conns)-1]
	require.NoError(g.t, conn.WriteMessage(websocket.TextMessage, frame))
}

func (g *fakeGateway) pushEnvelope(kind model.EnvelopeKind, payload any) {
	env, err := model.NewEnvelope(kind, payload)
	require.NoError(g.t, err)
	frame, err := json.Marshal(env)
	require.NoError(g.t, err)
	g.push(frame)
}

func (g *fakeGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *fakeGateway) subscribeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subscribes)
}

func (g *fakeGateway) dropAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.Close()
	}
}

type capture struct {
	mu   sync.Mutex
	envs []model.Envelope
}

func (c *capture) handle(env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func (c *capture) at(i int) model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envs[i]
}

func newTestSession(t *testing.T, g *fakeGateway, onChat, onPresence EnvelopeHandler) *Session {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)

	sess := session.New("room-1", "op1", "Support", "tok")
	tr := New(sess, strings.TrimPrefix(srv.URL, "http://"), onChat, onPresence)
	tr.retry = 20 * time.Millisecond
	return tr
}

func TestConnect_SubscribesToRoom(t *testing.T) {
	g := &fakeGateway{t: t}
	tr := newTestSession(t, g, nil, nil)

	require.NoError(t, tr.Connect())
	defer tr.Close()

	assert.Equal(t, Connected, tr.State())
	require.Eventually(t, func() bool { return g.subscribeCount() == 1 }, time.Second, 5*time.Millisecond)

	g.mu.Lock()
	assert.Equal(t, "room-1", g.subscribes[0].RoomID)
	g.mu.Unlock()
}

func TestConnect_InitialDialFailureSurfaced(t *testing.T) {
	sess := session.New("room-1", "op1", "Support", "tok")
	tr := New(sess, "127.0.0.1:1", nil, nil)

	err := tr.Connect()
	require.Error(t, err)
	assert.Equal(t, Disconnected, tr.State())
}

func TestDispatch_RoutesByKindAndDropsMalformed(t *testing.T) {
	g := &fakeGateway{t: t}
	chat := &capture{}
	pres := &capture{}
	tr := newTestSession(t, g, chat.handle, pres.handle)

	require.NoError(t, tr.Connect())
	defer tr.Close()

	g.pushEnvelope(model.KindChat, model.Message{ID: 1, Body: "hello"})
	g.push([]byte(`{"kind": broken`))
	g.pushEnvelope(model.KindPresence, model.PresenceEvent{Participant: "cp1", Typing: true})
	g.push([]byte(`{"kind":"mystery","payload":{}}`))
	g.pushEnvelope(model.KindChat, model.Message{ID: 2, Body: "still alive"})

	// Malformed and unknown frames are dropped without killing the
	// session; both consumers see exactly their own kinds, in order.
	require.Eventually(t, func() bool { return chat.count() == 2 && pres.count() == 1 },
		time.Second, 5*time.Millisecond)

	msg, err := chat.at(0).DecodeChat()
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	msg, err = chat.at(1).DecodeChat()
	require.NoError(t, err)
	assert.Equal(t, "still alive", msg.Body)
}

func TestSend_DeliveredToGateway(t *testing.T) {
	g := &fakeGateway{t: t}
	tr := newTestSession(t, g, nil, nil)

	require.NoError(t, tr.Connect())
	defer tr.Close()

	require.NoError(t, tr.SendChat(model.Message{RoomID: "room-1", Body: "outbound"}))
	require.NoError(t, tr.PublishPresence(model.PresenceEvent{RoomID: "room-1", Typing: true}))

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.inbound) == 2
	}, time.Second, 5*time.Millisecond)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, model.KindChat, g.inbound[0].Kind)
	assert.Equal(t, model.KindPresence, g.inbound[1].Kind)
}

func TestReconnect_RedialsAndResubscribes(t *testing.T) {
	g := &fakeGateway{t: t}
	chat := &capture{}
	tr := newTestSession(t, g, chat.handle, nil)

	require.NoError(t, tr.Connect())
	defer tr.Close()
	require.Eventually(t, func() bool { return g.subscribeCount() == 1 }, time.Second, 5*time.Millisecond)

	g.dropAll()

	// The session redials on its own and re-issues the subscription.
	require.Eventually(t, func() bool { return g.connCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return g.subscribeCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return tr.State() == Connected }, 2*time.Second, 10*time.Millisecond)

	// Frames flow again on the new socket.
	g.pushEnvelope(model.KindChat, model.Message{ID: 3, Body: "after reconnect"})
	require.Eventually(t, func() bool { return chat.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClose_IdempotentAndSilencesDispatch(t *testing.T) {
	g := &fakeGateway{t: t}
	chat := &capture{}
	tr := newTestSession(t, g, chat.handle, nil)

	require.NoError(t, tr.Connect())

	tr.Close()
	tr.Close() // idempotent
	assert.Equal(t, Disconnected, tr.State())

	// No reconnect after teardown.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, g.connCount())
	assert.Zero(t, chat.count())
}

func TestSend_AfterCloseIsSendError(t *testing.T) {
	g := &fakeGateway{t: t}
	tr := newTestSession(t, g, nil, nil)

	require.NoError(t, tr.Connect())
	tr.Close()

	err := tr.SendChat(model.Message{Body: "too late"})
	require.Error(t, err)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
}
