package server

import (
	"encoding/binary"
	"sync"
	"testing"

	"minicraft/protocol"
)

func taggedPacket(priority bool, producer, seq int) protocol.Packet {
	b := make([]byte, 5)
	if priority {
		b[0] = 1
	}
	b[1] = byte(producer)
	binary.BigEndian.PutUint16(b[2:], uint16(seq))
	return protocol.Packet{Bytes: b}
}

func TestOutputQueuesConcurrentProducers(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 8, 500
	var q outputQueues
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if i%2 == 0 {
					q.Send(taggedPacket(true, p, i))
				} else {
					q.SendLowPriority(taggedPacket(false, p, i))
				}
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[[2]int]bool)
	lastSeq := make(map[[2]int]int)
	sawLow := false
	for {
		pkt, ok := q.Next()
		if !ok {
			break
		}
		prio := pkt.Bytes[0] == 1
		if prio && sawLow {
			t.Fatal("priority packet drained after a low-priority packet")
		}
		if !prio {
			sawLow = true
		}
		producer := int(pkt.Bytes[1])
		seq := int(binary.BigEndian.Uint16(pkt.Bytes[2:]))
		key := [2]int{producer, seq}
		if seen[key] {
			t.Fatalf("packet %v drained twice", key)
		}
		seen[key] = true
		// 同一生产者、同一队列内保持 FIFO
		lane := [2]int{producer, int(pkt.Bytes[0])}
		if last, ok := lastSeq[lane]; ok && seq <= last {
			t.Fatalf("producer %d: seq %d after %d", producer, seq, last)
		}
		lastSeq[lane] = seq
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("drained %d packets, want %d", len(seen), producers*perProducer)
	}
}

func TestOutputQueuesConcurrentDrain(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 4, 2000
	var q outputQueues
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.SendLowPriority(taggedPacket(false, p, i))
			}
		}(p)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	count := 0
	for {
		if _, ok := q.Next(); ok {
			count++
			continue
		}
		select {
		case <-done:
			for {
				if _, ok := q.Next(); !ok {
					if count != producers*perProducer {
						t.Fatalf("drained %d packets, want %d", count, producers*perProducer)
					}
					return
				}
				count++
			}
		default:
		}
	}
}

func TestOutputQueuesCloseWithKick(t *testing.T) {
	t.Parallel()

	var q outputQueues
	q.Send(protocol.MakeMessage("a"))
	q.SendLowPriority(protocol.MakeSetBlock(protocol.Vector3{}, BlockStone))
	q.closeWith(protocol.MakeKick("bye"))
	q.Send(protocol.MakeMessage("after"))
	q.SendLowPriority(protocol.MakePing())

	p, ok := q.Next()
	if !ok || p.OpCode() != protocol.OpKick {
		t.Fatalf("first packet after close = %v, want kick", p.OpCode())
	}
	if p, ok := q.Next(); ok {
		t.Fatalf("unexpected packet %v after kick", p.OpCode())
	}
	if !q.isClosed() {
		t.Fatal("queues should report closed")
	}
}

func TestPacketQueueCompaction(t *testing.T) {
	t.Parallel()

	var q packetQueue
	for i := 0; i < 3000; i++ {
		q.Enqueue(taggedPacket(false, 0, i))
	}
	for i := 0; i < 2500; i++ {
		p, ok := q.Dequeue()
		if !ok || int(binary.BigEndian.Uint16(p.Bytes[2:])) != i {
			t.Fatalf("dequeue %d: got %v ok=%v", i, p.Bytes, ok)
		}
	}
	if q.Len() != 500 {
		t.Fatalf("Len = %d, want 500", q.Len())
	}
	q.Enqueue(taggedPacket(false, 0, 3000))
	for i := 2500; i <= 3000; i++ {
		p, ok := q.Dequeue()
		if !ok || int(binary.BigEndian.Uint16(p.Bytes[2:])) != i {
			t.Fatalf("dequeue %d: got %v ok=%v", i, p.Bytes, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("queue should be empty")
	}
}
