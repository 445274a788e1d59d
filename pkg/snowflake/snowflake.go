package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrNodeOutOfRange = errors.New("node number must be between 0 and 1023")

// Node hands out time-ordered ids. Ids from one node are strictly increasing,
// which keeps messages in a conversation partition in send order.
type Node struct {
	mu   sync.Mutex
	now  func() int64
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeOutOfRange
	}
	return &Node{
		now:  func() int64 { return time.Now().UnixMilli() },
		node: node,
	}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	// Clock moved backwards: keep issuing from the last seen millisecond.
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.last {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}

	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the creation time embedded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
