package queue

import (
	"sync"
	"testing"
	"time"

	"sslvpn/internal/protocol"
)

func pkt(b byte) *protocol.Packet {
	return protocol.New(protocol.CmdData, []byte{b})
}

func TestFIFOOrder(t *testing.T) {
	q := New(10)
	for i := byte(0); i < 5; i++ {
		if !q.Push(pkt(i), false) {
			t.Fatalf("Push #%d failed", i)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	for i := byte(0); i < 5; i++ {
		p, ok := q.Pop(false)
		if !ok {
			t.Fatalf("Pop #%d failed", i)
		}
		if p.Payload[0] != i {
			t.Errorf("Pop #%d = %d, out of order", i, p.Payload[0])
		}
	}
}

func TestNonBlockingBounds(t *testing.T) {
	q := New(2)
	if !q.Push(pkt(1), false) || !q.Push(pkt(2), false) {
		t.Fatal("pushes below capacity failed")
	}
	if q.Push(pkt(3), false) {
		t.Error("push over capacity succeeded, want refusal")
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Errorf("Len/Cap = %d/%d, want 2/2", q.Len(), q.Cap())
	}
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", q.Len())
	}
	if _, ok := q.Pop(false); ok {
		t.Error("Pop on empty queue succeeded, want miss")
	}
}

func TestBlockingPopWakesOnPush(t *testing.T) {
	q := New(4)
	got := make(chan *protocol.Packet, 1)
	go func() {
		p, ok := q.Pop(true)
		if ok {
			got <- p
		}
		close(got)
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(pkt(7), false)
	select {
	case p := <-got:
		if p == nil || p.Payload[0] != 7 {
			t.Fatalf("blocked Pop returned %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Pop never woke up")
	}
}

func TestBlockingPushWakesOnPop(t *testing.T) {
	q := New(1)
	q.Push(pkt(1), false)
	done := make(chan bool, 1)
	go func() {
		done <- q.Push(pkt(2), true)
	}()
	time.Sleep(20 * time.Millisecond)
	if _, ok := q.Pop(false); !ok {
		t.Fatal("Pop failed")
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("blocked Push returned false after room was made")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Push never woke up")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New(1)
	q.Push(pkt(1), false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if q.Push(pkt(2), true) {
			t.Error("Push on closed queue reported success")
		}
	}()
	empty := New(1)
	go func() {
		defer wg.Done()
		if _, ok := empty.Pop(true); ok {
			t.Error("Pop on closed queue reported success")
		}
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	empty.Close()

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock waiters")
	}

	if !q.Closed() {
		t.Error("Closed() = false after Close")
	}
	if q.Push(pkt(3), false) {
		t.Error("Push after Close succeeded")
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New(8)
	const total = 200
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(pkt(byte(i)), true)
		}
	}()
	var got int
	go func() {
		defer wg.Done()
		for got < total {
			if _, ok := q.Pop(true); ok {
				got++
			}
		}
	}()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("deadlocked after %d of %d packets", got, total)
	}
}
