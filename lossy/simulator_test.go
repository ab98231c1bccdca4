package lossy

import (
	"bytes"
	"testing"
	"time"
)

func drain(ch Channel, deadline time.Duration) [][]byte {
	var got [][]byte
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if data, ok := ch.Receive(); ok {
			got = append(got, data)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	return got
}

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	msg := []byte("hello over the pipe")
	if err := a.Send(msg); err != nil {
		t.Fatal(err)
	}
	data, ok := b.Receive()
	if !ok {
		t.Fatal("expected a datagram on the other end")
	}
	if !bytes.Equal(data, msg) {
		t.Errorf("got %q, want %q", data, msg)
	}
	if _, ok := b.Receive(); ok {
		t.Error("expected no second datagram")
	}

	// reverse direction
	if err := b.Send([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if data, ok := a.Receive(); !ok || string(data) != "pong" {
		t.Errorf("reverse direction failed: %q, %v", data, ok)
	}
}

func TestPipeSendAfterClose(t *testing.T) {
	a, b := Pipe()
	a.Close()
	if err := a.Send([]byte("x")); err == nil {
		t.Error("send on closed pipe should fail")
	}
	if err := b.Send([]byte("x")); err == nil {
		t.Error("peer end should be closed too")
	}
}

func TestSimulatorDropAll(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	sim := NewSimulator(a, &SimulatorConfig{DropRate: 1.0, Seed: 1})

	for i := 0; i < 20; i++ {
		if err := sim.Send([]byte("doomed")); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := b.Receive(); ok {
		t.Error("drop rate 1.0 should deliver nothing")
	}
	dropped, _, _, _ := sim.Stats()
	if dropped != 20 {
		t.Errorf("dropped count: got %d, want 20", dropped)
	}
}

func TestSimulatorDuplicateAll(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	sim := NewSimulator(a, &SimulatorConfig{DuplicateRate: 1.0, Seed: 1})

	if err := sim.Send([]byte("twice")); err != nil {
		t.Fatal(err)
	}
	got := drain(b, 50*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if !bytes.Equal(got[0], got[1]) {
		t.Error("duplicate should match the original")
	}
}

func TestSimulatorCorruptAll(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	sim := NewSimulator(a, &SimulatorConfig{CorruptRate: 1.0, Seed: 42})

	original := []byte{0x00, 0x00, 0x00, 0x00}
	if err := sim.Send(original); err != nil {
		t.Fatal(err)
	}
	data, ok := b.Receive()
	if !ok {
		t.Fatal("corrupted datagram should still be delivered")
	}
	if bytes.Equal(data, original) {
		t.Error("corrupt rate 1.0 should have flipped a bit")
	}
	diff := 0
	for i := range data {
		x := data[i] ^ original[i]
		for x != 0 {
			diff += int(x & 1)
			x >>= 1
		}
	}
	if diff != 1 {
		t.Errorf("exactly one bit should differ, got %d", diff)
	}
}

func TestSimulatorDelayStillDelivers(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	sim := NewSimulator(a, &SimulatorConfig{DelayRate: 1.0, MaxDelay: 20 * time.Millisecond, Seed: 7})

	for i := 0; i < 5; i++ {
		if err := sim.Send([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	got := drain(b, 200*time.Millisecond)
	if len(got) != 5 {
		t.Errorf("expected all 5 delayed datagrams, got %d", len(got))
	}
}
