// Package store holds the ordered message sequence for the active room.
//
// The sequence is strictly append-only: arrival order is preserved even if
// the backbone delivers events out of causal order. Re-sorting would shift
// indices under the height cache, so it is never done; this is a known
// limitation, not an oversight.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahir/supportline/pkg/model"
	"github.com/mahir/supportline/pkg/session"
)

// LoadError wraps a history fetch failure. It is fatal to room entry; the
// caller abandons the room view instead of retrying at this layer.
type LoadError struct {
	RoomID string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load history for room %s: %v", e.RoomID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Page is one slice of room history as the history service returns it:
// newest first.
type Page struct {
	Items []model.Message `json:"items"`
	Total int             `json:"total"`
}

// HistoryFetcher is the history-service collaborator.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, roomID string, offset, limit int) (Page, error)
}

// Sink receives change notifications after every mutation. All methods are
// invoked with the store lock released.
type Sink interface {
	// SequenceReplaced fires when the whole sequence changed identity
	// (initial load, resync). Index-keyed caches must be discarded.
	SequenceReplaced()
	// SequenceGrew fires after an append.
	SequenceGrew()
	// IndexInvalidated fires when index i was superseded in place
	// (reaction or edit update).
	IndexInvalidated(i int)
}

// Draft is the operator's outbound input before it becomes a message.
type Draft struct {
	Body       string
	Attachment *model.Attachment
}

// Store owns the message sequence and the resolved flag for one room.
type Store struct {
	sess    session.RoomSession
	history HistoryFetcher

	mu       sync.Mutex
	seq      []model.Message
	resolved bool
	sink     Sink
}

func New(sess session.RoomSession, history HistoryFetcher) *Store {
	return &Store{sess: sess, history: history}
}

// SetSink registers the change listener. Call before the transport starts
// delivering events.
func (s *Store) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// LoadInitial replaces the sequence with the first page of history. The
// service returns items newest-first; they are flipped here so internal
// order is oldest-first, matching append semantics.
func (s *Store) LoadInitial(ctx context.Context, limit int) error {
	page, err := s.history.FetchPage(ctx, s.sess.RoomID, 0, limit)
	if err != nil {
		return &LoadError{RoomID: s.sess.RoomID, Err: err}
	}

	seq := make([]model.Message, len(page.Items))
	for i, m := range page.Items {
		seq[len(page.Items)-1-i] = m
	}

	s.mu.Lock()
	s.seq = seq
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.SequenceReplaced()
	}
	return nil
}

// AppendLocalEcho inserts a PENDING message synthesized from the draft,
// before any network confirmation. It returns a correlation token; nothing
// mutates this entry later — if the backbone confirms, the confirmation
// arrives as a fresh inbound message.
func (s *Store) AppendLocalEcho(draft Draft) (model.Message, string) {
	msg := model.Message{
		RoomID:        s.sess.RoomID,
		SenderRole:    model.RoleOperator,
		SenderLabel:   s.sess.OperatorLabel,
		Body:          draft.Body,
		Attachment:    draft.Attachment,
		CreatedAt:     time.Now(),
		DeliveryState: model.StatePending,
	}
	token := uuid.NewString()

	s.mu.Lock()
	s.seq = append(s.seq, msg)
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.SequenceGrew()
	}
	return msg, token
}

// IngestRemote appends an inbound chat envelope. A frame whose id matches
// an entry already in the sequence supersedes that entry in place (reaction
// and edit updates arrive this way). Everything else is appended as-is: in
// particular the broadcast echo of our own send is NOT reconciled against
// the earlier optimistic echo, so both stay in the sequence. That matches
// the observed backbone behavior.
func (s *Store) IngestRemote(env model.Envelope) error {
	msg, err := env.DecodeChat()
	if err != nil {
		return err
	}

	s.mu.Lock()
	sink := s.sink
	if msg.ID != 0 {
		for i := range s.seq {
			if s.seq[i].ID == msg.ID {
				s.seq[i] = msg
				s.mu.Unlock()
				if sink != nil {
					sink.IndexInvalidated(i)
				}
				return nil
			}
		}
	}
	s.seq = append(s.seq, msg)
	s.mu.Unlock()

	if sink != nil {
		sink.SequenceGrew()
	}
	return nil
}

// MarkResolved flips the resolved flag. Monotonic: once true it never
// reverts, and repeat calls are no-ops.
func (s *Store) MarkResolved() {
	s.mu.Lock()
	s.resolved = true
	s.mu.Unlock()
}

func (s *Store) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seq)
}

// At returns the message at index i. The bool is false when i is out of
// range.
func (s *Store) At(i int) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.seq) {
		return model.Message{}, false
	}
	return s.seq[i], true
}

// Snapshot copies the current sequence for the render layer.
func (s *Store) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.seq))
	copy(out, s.seq)
	return out
}

// CountBySender counts messages from the given role. O(n), fine for one
// room's visible history.
func (s *Store) CountBySender(role model.SenderRole) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.seq {
		if m.SenderRole == role {
			n++
		}
	}
	return n
}

// FirstTimestamp returns the zero time when the sequence is empty.
func (s *Store) FirstTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		return time.Time{}
	}
	return s.seq[0].CreatedAt
}

// LastTimestamp returns the zero time when the sequence is empty.
func (s *Store) LastTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seq) == 0 {
		return time.Time{}
	}
	return s.seq[len(s.seq)-1].CreatedAt
}
