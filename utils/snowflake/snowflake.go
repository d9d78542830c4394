// Package snowflake generates time-ordered 63-bit message IDs.
//
// Layout: 41 bits of milliseconds since Epoch, 10 bits of node id and a
// 12 bit per-millisecond sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is 2024-01-01T00:00:00Z in milliseconds.
	Epoch int64 = 1704067200000

	NodeBits     uint8 = 10
	SequenceBits uint8 = 12

	MaxNodeID    int64 = -1 ^ (-1 << NodeBits)
	sequenceMask int64 = -1 ^ (-1 << SequenceBits)
	nodeShift          = SequenceBits
	timeShift          = SequenceBits + NodeBits
)

var (
	ErrInvalidNodeID       = errors.New("snowflake: node id out of range")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	nodeID int64
	now    func() int64

	sequence      int64
	lastTimestamp int64
}

// NewGenerator returns a generator for the given node. Every process writing
// to the same database needs its own node id.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID returns the next id. IDs from one generator are strictly increasing.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}
	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			for ts <= g.lastTimestamp {
				ts = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	return (ts-Epoch)<<timeShift | g.nodeID<<nodeShift | g.sequence, nil
}

// Parse splits an id into its timestamp (unix ms), node id and sequence.
func Parse(id int64) (timestamp, nodeID, sequence int64) {
	return id>>timeShift + Epoch, (id >> nodeShift) & MaxNodeID, id & sequenceMask
}

// Time returns the creation time encoded in id.
func Time(id int64) time.Time {
	ts, _, _ := Parse(id)
	return time.UnixMilli(ts).UTC()
}
