package smp

import (
	"testing"
	"time"
)

func TestBroadcastWaitsForAllAcks(t *testing.T) {
	m := New(3)

	for _, cpu := range []int{1, 2} {
		go func(cpu int) {
			<-m.Mailbox(cpu)
			m.Ack(0, cpu)
		}(cpu)
	}

	acked, timedOut := m.Broadcast(0, "MB", time.Second)
	if len(timedOut) != 0 {
		t.Fatalf("timedOut = %v, want none", timedOut)
	}
	if len(acked) != 2 {
		t.Fatalf("acked = %v, want 2 entries", acked)
	}
}

func TestBroadcastTimesOutOnSilentPeer(t *testing.T) {
	m := New(2)
	// CPU 1 never reads its mailbox or acks.
	_, timedOut := m.Broadcast(0, "WMB", 20*time.Millisecond)
	if len(timedOut) != 1 || timedOut[0] != 1 {
		t.Fatalf("timedOut = %v, want [1]", timedOut)
	}
}

func TestSendDeliversToSingleTarget(t *testing.T) {
	m := New(2)
	m.Send(0, 1, "TLB-SHOOTDOWN")
	msg := <-m.Mailbox(1)
	if msg.Kind != "TLB-SHOOTDOWN" || msg.Sender != 0 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestCPUCount(t *testing.T) {
	m := New(4)
	if m.CPUCount() != 4 {
		t.Fatalf("CPUCount = %d, want 4", m.CPUCount())
	}
}
