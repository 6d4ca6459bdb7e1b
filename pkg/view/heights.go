// Package view implements the presentation-state side of the engine: the
// per-index extent cache the virtualized list reads, and the controller
// that decides between auto-follow and preserving a manual scroll
// position. Rendering itself happens elsewhere; this package only computes
// numbers and timing.
package view

import (
	"sync"

	"github.com/mahir/supportline/pkg/model"
)

// Extent units are abstract layout units, not pixels.
const (
	baseExtent       = 48
	imageExtent      = 180
	fileExtent       = 64
	reactionExtent   = 28
	lineExtent       = 20
	minLines         = 2
	defaultLineChars = 48
)

// MessageSource is the slice of the store the cache needs. *store.Store
// satisfies it.
type MessageSource interface {
	Len() int
	At(i int) (model.Message, bool)
}

// HeightCache memoizes the estimated extent of each message so laying out
// a long list never re-measures per frame. Estimates are stable for a
// given message's content: content never mutates after insertion except
// reaction and edit updates, which the store reports per index.
type HeightCache struct {
	src MessageSource

	mu        sync.Mutex
	byIndex   map[int]int
	lineChars int
}

func NewHeightCache(src MessageSource) *HeightCache {
	return &HeightCache{
		src:       src,
		byIndex:   make(map[int]int),
		lineChars: defaultLineChars,
	}
}

// SetLineChars adjusts the assumed characters-per-line for the current
// viewport width. All memoized extents depend on it, so the cache is
// discarded wholesale.
func (h *HeightCache) SetLineChars(n int) {
	if n < 1 {
		n = 1
	}
	h.mu.Lock()
	h.lineChars = n
	h.byIndex = make(map[int]int)
	h.mu.Unlock()
}

// HeightOf returns the extent of the message at index i, computing and
// memoizing it on a miss. Out-of-range indices report zero.
func (h *HeightCache) HeightOf(i int) int {
	h.mu.Lock()
	if ext, ok := h.byIndex[i]; ok {
		h.mu.Unlock()
		return ext
	}
	lineChars := h.lineChars
	h.mu.Unlock()

	msg, ok := h.src.At(i)
	if !ok {
		return 0
	}
	ext := estimate(msg, lineChars)

	h.mu.Lock()
	h.byIndex[i] = ext
	h.mu.Unlock()
	return ext
}

// estimate derives an extent from the message's content shape alone, so it
// is deterministic for unchanged content.
func estimate(m model.Message, lineChars int) int {
	ext := baseExtent

	if m.Attachment != nil {
		if m.Attachment.IsImage() {
			ext += imageExtent
		} else {
			ext += fileExtent
		}
	}
	if m.HasReactions() {
		ext += reactionExtent
	}

	lines := (len(m.Body) + lineChars - 1) / lineChars
	if lines < minLines {
		lines = minLines
	}
	ext += lines * lineExtent

	return ext
}

// TotalExtent sums the extents of every index in the source.
func (h *HeightCache) TotalExtent() int {
	total := 0
	for i := 0; i < h.src.Len(); i++ {
		total += h.HeightOf(i)
	}
	return total
}

// Invalidate drops the memo for one index. Used when that index's reaction
// set or edited flag changed.
func (h *HeightCache) Invalidate(i int) {
	h.mu.Lock()
	delete(h.byIndex, i)
	h.mu.Unlock()
}

// InvalidateAll discards the whole memo table. Used when the sequence was
// structurally replaced and index identity no longer holds.
func (h *HeightCache) InvalidateAll() {
	h.mu.Lock()
	h.byIndex = make(map[int]int)
	h.mu.Unlock()
}
