// Package msgid assigns backbone-wide unique, time-ordered message ids.
// Snowflake layout: 41 bits of milliseconds since the service epoch, 10
// bits of node, 12 bits of per-millisecond sequence.
package msgid

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	seqBits         = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	seqMask         = -1 ^ (-1 << seqBits)
	timeShift       = nodeBits + seqBits
	nodeShift       = seqBits
	epoch     int64 = 1735689600000 // 2025-01-01 00:00:00 UTC
)

type Generator struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

// NewGenerator builds a generator for a node id. Node ids must be unique
// per gateway instance.
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node id must be between 0 and 1023")
	}
	return &Generator{node: node}, nil
}

// Next returns the next id. When the per-millisecond sequence wraps, it
// spins until the clock advances.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < g.last {
		// Clock moved backwards; hold at the last observed instant
		// rather than risk duplicate ids.
		now = g.last
	}

	if g.last == now {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}

	g.last = now

	return ((now - epoch) << timeShift) | (g.node << nodeShift) | g.seq
}
