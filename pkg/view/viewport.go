package view

import (
	"sync"
	"time"
)

const (
	// DefaultCoalesce batches a burst of appends into one scroll-to-tail.
	DefaultCoalesce = 100 * time.Millisecond
	// bottomTolerance is deliberately loose: an exact bottom-edge
	// comparison is brittle against sub-pixel rendering variance.
	bottomTolerance = 100
)

// Controller decides when the viewport chases the tail and when it leaves
// the operator's manual scroll position alone.
//
// It doubles as the store's change sink: structural replacement clears the
// height cache, per-index supersession invalidates one entry, and appends
// feed the follow logic.
type Controller struct {
	heights  *HeightCache
	coalesce time.Duration

	// ScrollToTail receives the index to scroll to after a coalesced
	// append burst. JumpAvailable fires instead when the operator is
	// scrolled away and new content arrived out of view. Both may be nil.
	ScrollToTail  func(lastIndex int)
	JumpAvailable func()

	mu         sync.Mutex
	autoFollow bool
	userDriven bool
	timer      *time.Timer
	gen        uint64
	closed     bool
}

func NewController(heights *HeightCache) *Controller {
	return NewControllerWithCoalesce(heights, DefaultCoalesce)
}

// NewControllerWithCoalesce exists so tests can shrink the coalescing
// window.
func NewControllerWithCoalesce(heights *HeightCache, coalesce time.Duration) *Controller {
	return &Controller{heights: heights, coalesce: coalesce, autoFollow: true}
}

// SequenceReplaced implements the store sink: index identity is gone, so
// every memoized extent goes with it.
func (c *Controller) SequenceReplaced() {
	c.heights.InvalidateAll()
}

// IndexInvalidated implements the store sink for reaction/edit updates.
func (c *Controller) IndexInvalidated(i int) {
	c.heights.Invalidate(i)
}

// SequenceGrew implements the store sink. While following, a burst of
// appends collapses into one scroll-to-tail after the coalescing window;
// while the operator is scrolled away the viewport is left untouched and
// the jump affordance is raised instead.
func (c *Controller) SequenceGrew() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if !c.autoFollow || c.userDriven {
		cb := c.JumpAvailable
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.coalesce, func() { c.fireScroll(gen) })
	c.mu.Unlock()
}

func (c *Controller) fireScroll(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	cb := c.ScrollToTail
	c.mu.Unlock()

	if cb != nil {
		last := c.heights.src.Len() - 1
		if last >= 0 {
			cb(last)
		}
	}
}

// OnScroll folds a scroll position into the follow state. Offsets within
// bottomTolerance extent-units of the total extent count as "at the tail".
func (c *Controller) OnScroll(offset, viewportHeight int) {
	total := c.heights.TotalExtent()
	nearBottom := offset+viewportHeight >= total-bottomTolerance

	c.mu.Lock()
	c.autoFollow = nearBottom
	c.userDriven = !nearBottom
	c.mu.Unlock()
}

// Following reports whether the next append would auto-scroll.
func (c *Controller) Following() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoFollow && !c.userDriven
}

// JumpToTail is the manual affordance: the operator asked to re-attach to
// the tail.
func (c *Controller) JumpToTail() {
	c.mu.Lock()
	c.autoFollow = true
	c.userDriven = false
	cb := c.ScrollToTail
	c.mu.Unlock()

	if cb != nil {
		last := c.heights.src.Len() - 1
		if last >= 0 {
			cb(last)
		}
	}
}

// Close cancels any pending coalesced scroll. Idempotent; no callback
// fires after Close returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
