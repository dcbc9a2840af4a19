package ids

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// 41 bits 毫秒 | 10 bits 节点 | 12 bits 序列
const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Node produces strictly increasing snowflake ids for one process.
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNode {
		return nil, fmt.Errorf("ids: node id %d out of range [0,%d]", nodeID, maxNode)
	}
	return &Node{nodeID: nodeID, now: time.Now}, nil
}

func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()
	if now < n.lastTSMS {
		// 时钟回拨：沿用上一个时间戳继续递增序列
		now = n.lastTSMS
	}
	if now == n.lastTSMS {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			// 序列溢出，借用下一毫秒
			now++
		}
	} else {
		n.seq = 0
	}
	n.lastTSMS = now
	return (now-epoch.UnixMilli())<<(nodeBits+seqBits) | n.nodeID<<seqBits | n.seq
}

var (
	defaultNode, _ = NewNode(1)
	defaultMu      sync.RWMutex
)

// SetNodeID 在 main() 里按配置设置节点号
func SetNodeID(nodeID int64) error {
	n, err := NewNode(nodeID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultNode = n
	defaultMu.Unlock()
	return nil
}

func Generate() int64 {
	defaultMu.RLock()
	n := defaultNode
	defaultMu.RUnlock()
	return n.Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}
