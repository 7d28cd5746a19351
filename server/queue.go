package server

import (
	"sync"

	"minicraft/protocol"
)

// packetQueue 无界 FIFO：任意协程可入队，只有会话自己的循环出队
type packetQueue struct {
	mu    sync.Mutex
	items []protocol.Packet
	head  int
}

func (q *packetQueue) Enqueue(p protocol.Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// Dequeue 取出队首；队列为空时 ok=false
func (q *packetQueue) Dequeue() (p protocol.Packet, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return p, false
	}
	p = q.items[q.head]
	q.items[q.head] = protocol.Packet{}
	q.head++
	// 已消费的前缀过长时压缩底层数组
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return p, true
}

func (q *packetQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.mu.Unlock()
}

func (q *packetQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// outputQueues 优先/低优先两级出站队列。closed 之后普通入队被丢弃，
// 踢出报文走 forcePriority 绕过该限制
type outputQueues struct {
	priority packetQueue
	low      packetQueue

	mu     sync.Mutex
	closed bool
}

// Send 优先队列：聊天、移动等对延迟敏感的报文
func (o *outputQueues) Send(p protocol.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.priority.Enqueue(p)
}

// SendLowPriority 低优先队列：方块更新等大批量报文
func (o *outputQueues) SendLowPriority(p protocol.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.low.Enqueue(p)
}

// Next 先取优先队列，再取低优先队列
func (o *outputQueues) Next() (protocol.Packet, bool) {
	if p, ok := o.priority.Dequeue(); ok {
		return p, true
	}
	return o.low.Dequeue()
}

// closeWith 关闭入队、清空两个队列，并压入唯一的最终报文（通常是踢出）
func (o *outputQueues) closeWith(final protocol.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.priority.Clear()
	o.low.Clear()
	o.priority.Enqueue(final)
}

// close 仅关闭入队
func (o *outputQueues) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *outputQueues) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
