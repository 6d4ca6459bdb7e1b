// Package presence implements the debounced typing-state protocol.
//
// Outbound: the first keystroke of a burst publishes typing=true; each
// further keystroke only pushes the quiet timer out. After the quiet window
// with no keystrokes one typing=false is published. Exactly one publish per
// transition, never one per keystroke.
//
// Inbound: typing signals from remote participants are tracked with an
// expiry so a counterpart that vanishes mid-burst does not stay "typing"
// forever. Everything is in-memory and dies with the room session.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/session"
)

const (
	// DefaultQuietWindow is the trailing debounce for the local operator.
	DefaultQuietWindow = 3000 * time.Millisecond
	// DefaultRemoteTTL caps how long a remote typing entry survives
	// without a refresh.
	DefaultRemoteTTL = 6 * time.Second
)

// Publisher sends a presence event to the backbone. Best effort; failures
// are logged and the state machine carries on.
type Publisher interface {
	PublishPresence(ev model.PresenceEvent) error
}

// Signaler is the per-room typing state machine. Safe for use from the
// transport reader goroutine and the input goroutine concurrently.
type Signaler struct {
	sess        session.RoomSession
	pub         Publisher
	quietWindow time.Duration
	remoteTTL   time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	gen    uint64
	typing map[string]time.Time // participant -> expiry instant
	closed bool
	now    func() time.Time
}

func New(sess session.RoomSession, pub Publisher) *Signaler {
	return NewWithWindows(sess, pub, DefaultQuietWindow, DefaultRemoteTTL)
}

// NewWithWindows exists so tests can shrink the debounce windows.
func NewWithWindows(sess session.RoomSession, pub Publisher, quiet, ttl time.Duration) *Signaler {
	return &Signaler{
		sess:        sess,
		pub:         pub,
		quietWindow: quiet,
		remoteTTL:   ttl,
		typing:      make(map[string]time.Time),
		now:         time.Now,
	}
}

// Keystroke records local typing activity. The first call of a burst
// publishes typing=true; subsequent calls only re-arm the quiet timer.
func (s *Signaler) Keystroke() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	first := !s.active
	s.active = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.quietWindow, func() { s.quiet(gen) })
	s.mu.Unlock()

	if first {
		s.publish(true)
	}
}

// quiet fires when the debounce window elapses with no further keystrokes.
// The generation check makes timers re-armed or cancelled after this one
// was scheduled inert.
func (s *Signaler) quiet(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.publish(false)
}

func (s *Signaler) publish(typing bool) {
	ev := model.PresenceEvent{
		RoomID:      s.sess.RoomID,
		Participant: s.sess.OperatorID,
		Typing:      typing,
		At:          s.now(),
	}
	if err := s.pub.PublishPresence(ev); err != nil {
		log.Printf("presence publish failed: %v", err)
	}
}

// HandleRemote folds an inbound presence envelope into the typing set.
// Signals carrying the local operator's own identity are dropped so our
// published bursts never reflect back into the view.
func (s *Signaler) HandleRemote(env model.Envelope) error {
	ev, err := env.DecodePresence()
	if err != nil {
		return err
	}
	if ev.Participant == s.sess.OperatorID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if ev.Typing {
		s.typing[ev.Participant] = s.now().Add(s.remoteTTL)
	} else {
		delete(s.typing, ev.Participant)
	}
	return nil
}

// TypingParticipants lists remote identities currently typing. Entries
// whose TTL lapsed without a refresh are dropped on the way out.
func (s *Signaler) TypingParticipants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for who, expiry := range s.typing {
		if now.After(expiry) {
			delete(s.typing, who)
			continue
		}
		out = append(out, who)
	}
	return out
}

// Close cancels any pending quiet timer and freezes the signaler. Safe to
// call more than once; no publish fires after Close returns.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.typing = make(map[string]time.Time)
}
