package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// Layout: 41 bits of milliseconds since Epoch, 10 bits of node, 12 bits of sequence.
const (
	nodeBits = 10
	seqBits  = 12

	MaxNode = 1<<nodeBits - 1
	seqMask = 1<<seqBits - 1

	timeShift = nodeBits + seqBits
	nodeShift = seqBits
)

// Epoch is 2024-01-01 00:00:00 UTC in unix milliseconds.
const Epoch int64 = 1704067200000

var ErrInvalidNode = errors.New("snowflake: node must be between 0 and 1023")

// Node hands out time-ordered 63-bit ids. Ids from one node are strictly increasing.
type Node struct {
	mu    sync.Mutex
	id    int64
	last  int64
	seq   int64
	clock func() int64
}

func NewNode(id int64) (*Node, error) {
	if id < 0 || id > MaxNode {
		return nil, ErrInvalidNode
	}
	return &Node{id: id, clock: func() int64 { return time.Now().UnixMilli() }}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.clock()
	switch {
	case ms > n.last:
		n.seq = 0
	default:
		// same millisecond, or the clock went backwards: keep counting on the last one
		ms = n.last
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			ms = n.waitAfter(n.last)
		}
	}
	n.last = ms

	return (ms-Epoch)<<timeShift | n.id<<nodeShift | n.seq
}

// waitAfter spins until the clock passes ms.
func (n *Node) waitAfter(ms int64) int64 {
	now := n.clock()
	for now <= ms {
		time.Sleep(100 * time.Microsecond)
		now = n.clock()
	}
	return now
}

// GenerateString returns Generate() in base 10.
func (n *Node) GenerateString() string {
	return strconv.FormatInt(n.Generate(), 10)
}

// Time extracts the creation time embedded in id.
func Time(id int64) time.Time {
	return time.UnixMilli(id>>timeShift + Epoch)
}

// NodeOf extracts the node number embedded in id.
func NodeOf(id int64) int64 {
	return id >> nodeShift & MaxNode
}
