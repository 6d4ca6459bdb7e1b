package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/session"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []model.PresenceEvent
}

func (p *capturePublisher) PublishPresence(ev model.PresenceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) snapshot() []model.PresenceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.PresenceEvent, len(p.events))
	copy(out, p.events)
	return out
}

func testSession() session.RoomSession {
	return session.New("room-1", "op1", "Support", "tok")
}

func presenceEnvelope(t *testing.T, ev model.PresenceEvent) model.Envelope {
	t.Helper()
	env, err := model.NewEnvelope(model.KindPresence, ev)
	require.NoError(t, err)
	return env
}

func TestKeystrokeBurst_SingleTrueThenSingleFalse(t *testing.T) {
	pub := &capturePublisher{}
	// 3000ms window scaled down to keep the test fast; the ratios hold
	// (keystrokes land closer together than the window).
	s := NewWithWindows(testSession(), pub, 60*time.Millisecond, time.Second)
	defer s.Close()

	// Two keystrokes well inside the window.
	s.Keystroke()
	time.Sleep(10 * time.Millisecond)
	s.Keystroke()

	events := pub.snapshot()
	require.Len(t, events, 1, "exactly one typing=true per burst")
	assert.True(t, events[0].Typing)
	assert.Equal(t, "op1", events[0].Participant)

	// After the quiet window, exactly one typing=false.
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	events = pub.snapshot()
	assert.False(t, events[1].Typing)

	// And no further publishes.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, pub.snapshot(), 2)
}

func TestKeystroke_EachBurstPublishesAgain(t *testing.T) {
	pub := &capturePublisher{}
	s := NewWithWindows(testSession(), pub, 20*time.Millisecond, time.Second)
	defer s.Close()

	s.Keystroke()
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	s.Keystroke()
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 4 }, time.Second, 5*time.Millisecond)

	events := pub.snapshot()
	assert.True(t, events[0].Typing)
	assert.False(t, events[1].Typing)
	assert.True(t, events[2].Typing)
	assert.False(t, events[3].Typing)
}

func TestHandleRemote_TracksAndRemoves(t *testing.T) {
	pub := &capturePublisher{}
	s := New(testSession(), pub)
	defer s.Close()

	require.NoError(t, s.HandleRemote(presenceEnvelope(t, model.PresenceEvent{
		RoomID: "room-1", Participant: "cp1", Typing: true,
	})))
	assert.Equal(t, []string{"cp1"}, s.TypingParticipants())

	require.NoError(t, s.HandleRemote(presenceEnvelope(t, model.PresenceEvent{
		RoomID: "room-1", Participant: "cp1", Typing: false,
	})))
	assert.Empty(t, s.TypingParticipants())
}

func TestHandleRemote_FiltersSelf(t *testing.T) {
	pub := &capturePublisher{}
	s := New(testSession(), pub)
	defer s.Close()

	require.NoError(t, s.HandleRemote(presenceEnvelope(t, model.PresenceEvent{
		RoomID: "room-1", Participant: "op1", Typing: true,
	})))
	assert.Empty(t, s.TypingParticipants(), "own signals must never reflect back")
}

func TestHandleRemote_EntriesLapseWithoutRefresh(t *testing.T) {
	pub := &capturePublisher{}
	s := NewWithWindows(testSession(), pub, time.Second, 30*time.Millisecond)
	defer s.Close()

	require.NoError(t, s.HandleRemote(presenceEnvelope(t, model.PresenceEvent{
		RoomID: "room-1", Participant: "cp1", Typing: true,
	})))
	require.NotEmpty(t, s.TypingParticipants())

	assert.Eventually(t, func() bool { return len(s.TypingParticipants()) == 0 },
		time.Second, 5*time.Millisecond)
}

func TestHandleRemote_MalformedPayload(t *testing.T) {
	pub := &capturePublisher{}
	s := New(testSession(), pub)
	defer s.Close()

	err := s.HandleRemote(model.Envelope{Kind: model.KindPresence, Payload: []byte(`{oops`)})
	assert.Error(t, err)
}

func TestClose_CancelsPendingQuietPublish(t *testing.T) {
	pub := &capturePublisher{}
	s := NewWithWindows(testSession(), pub, 20*time.Millisecond, time.Second)

	s.Keystroke()
	s.Close()
	s.Close() // idempotent

	time.Sleep(60 * time.Millisecond)
	events := pub.snapshot()
	require.Len(t, events, 1, "no publish may fire after teardown")
	assert.True(t, events[0].Typing)

	// Keystrokes after close are inert.
	s.Keystroke()
	assert.Len(t, pub.snapshot(), 1)
}
