package view

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahir/supportline/pkg/model"
)

func growingSource(n int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		src.msgs = append(src.msgs, model.Message{Body: strings.Repeat("m", 40)})
	}
	return src
}

func TestOnScroll_NearBottomTolerance(t *testing.T) {
	src := growingSource(20)
	h := NewHeightCache(src)
	c := NewController(h)
	defer c.Close()

	total := h.TotalExtent()
	viewport := 200

	tests := []struct {
		name      string
		offset    int
		following bool
	}{
		{"exactly at bottom", total - viewport, true},
		{"within tolerance", total - viewport - bottomTolerance + 1, true},
		{"just outside tolerance", total - viewport - bottomTolerance - 1, false},
		{"scrolled to top", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c.OnScroll(tc.offset, viewport)
			assert.Equal(t, tc.following, c.Following())
		})
	}
}

func TestSequenceGrew_CoalescesIntoOneScroll(t *testing.T) {
	src := growingSource(3)
	h := NewHeightCache(src)
	c := NewControllerWithCoalesce(h, 20*time.Millisecond)
	defer c.Close()

	var scrolls atomic.Int32
	var lastIndex atomic.Int32
	c.ScrollToTail = func(i int) {
		scrolls.Add(1)
		lastIndex.Store(int32(i))
	}

	// A burst of appends while following collapses to one instruction.
	for i := 0; i < 5; i++ {
		src.msgs = append(src.msgs, model.Message{Body: "new"})
		c.SequenceGrew()
	}

	require.Eventually(t, func() bool { return scrolls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(src.Len()-1), lastIndex.Load())

	// And stays at one: the window has drained.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), scrolls.Load())
}

func TestSequenceGrew_UserDrivenRaisesAffordance(t *testing.T) {
	src := growingSource(30)
	h := NewHeightCache(src)
	c := NewControllerWithCoalesce(h, 5*time.Millisecond)
	defer c.Close()

	var scrolls, jumps atomic.Int32
	c.ScrollToTail = func(int) { scrolls.Add(1) }
	c.JumpAvailable = func() { jumps.Add(1) }

	// Operator scrolled away from the tail.
	c.OnScroll(0, 100)
	require.False(t, c.Following())

	c.SequenceGrew()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, scrolls.Load(), "viewport must be left untouched")
	assert.Equal(t, int32(1), jumps.Load())
}

func TestJumpToTail_ReattachesAndScrolls(t *testing.T) {
	src := growingSource(10)
	h := NewHeightCache(src)
	c := NewController(h)
	defer c.Close()

	var lastIndex atomic.Int32
	c.ScrollToTail = func(i int) { lastIndex.Store(int32(i)) }

	c.OnScroll(0, 100)
	require.False(t, c.Following())

	c.JumpToTail()
	assert.True(t, c.Following())
	assert.Equal(t, int32(9), lastIndex.Load())
}

func TestClose_CancelsPendingScroll(t *testing.T) {
	src := growingSource(3)
	h := NewHeightCache(src)
	c := NewControllerWithCoalesce(h, 10*time.Millisecond)

	var scrolls atomic.Int32
	c.ScrollToTail = func(int) { scrolls.Add(1) }

	c.SequenceGrew()
	c.Close()
	c.Close() // idempotent

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, scrolls.Load(), "no callback may fire after teardown")
}

func TestSinkMethods_DriveHeightCache(t *testing.T) {
	src := growingSource(2)
	h := NewHeightCache(src)
	c := NewController(h)
	defer c.Close()

	before := h.HeightOf(0)

	src.msgs[0].Reactions = map[string][]string{"👍": {"cp1"}}
	c.IndexInvalidated(0)
	assert.Equal(t, before+reactionExtent, h.HeightOf(0))

	src.msgs = growingSource(1).msgs
	c.SequenceReplaced()
	assert.Equal(t, before, h.HeightOf(0))
}
