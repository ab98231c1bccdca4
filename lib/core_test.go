package lib

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dineshk-l/netsec-btcp-project/lossy"
)

func fastConnConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Window:         8,
		Timeout:        40 * time.Millisecond,
		MaxRetries:     100,
		TickInterval:   5 * time.Millisecond,
		MaxPayloadSize: 512,
		SendBufferSize: 64 * 1024,
		RecvBufferSize: 64 * 1024,
	}
}

// readAll drains a connection until io.EOF, guarding every read with a
// deadline so a wedged transfer fails the test instead of hanging it.
func readAll(conn *Connection) ([]byte, error) {
	var collected []byte
	buffer := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(15 * time.Second))
		n, err := conn.Read(buffer)
		collected = append(collected, buffer[:n]...)
		if err == io.EOF {
			return collected, nil
		}
		if err != nil {
			return collected, err
		}
	}
}

func testPattern(size int) []byte {
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}
	return pattern
}

type drainResult struct {
	data []byte
	err  error
}

// acceptAndDrain serves one inbound connection: accept, read the stream to
// EOF, then close. A teardown that does not converge surfaces in err.
func acceptAndDrain(core *BtcpCore, channel lossy.Channel) drainResult {
	listener, _ := core.Listen(channel, fastConnConfig())
	conn, err := listener.Accept()
	if err != nil {
		return drainResult{nil, err}
	}
	data, err := readAll(conn)
	if err != nil {
		return drainResult{data, err}
	}
	return drainResult{data, conn.Close()}
}

func TestEndToEndEcho(t *testing.T) {
	core, err := NewBtcpCore(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	clientEnd, serverEnd := lossy.Pipe()
	defer clientEnd.Close()

	type acceptResult struct {
		conn *Connection
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		listener, _ := core.Listen(serverEnd, fastConnConfig())
		conn, err := listener.Accept()
		accepted <- acceptResult{conn, err}
	}()

	client, err := core.Dial(clientEnd, fastConnConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	result := <-accepted
	if result.err != nil {
		t.Fatalf("Accept: %v", result.err)
	}
	server := result.conn

	message := []byte("hello over an unreliable link")
	if _, err := client.Write(message); err != nil {
		t.Fatalf("client Write: %v", err)
	}

	received := make([]byte, len(message))
	server.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(server, received); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if !bytes.Equal(received, message) {
		t.Fatalf("server received %q, want %q", received, message)
	}

	// echo it back
	if _, err := server.Write(received); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	echoed := make([]byte, len(message))
	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := io.ReadFull(client, echoed); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if !bytes.Equal(echoed, message) {
		t.Fatalf("client received %q, want %q", echoed, message)
	}

	// graceful close from the client side; the server sees EOF
	closeErr := make(chan error, 1)
	go func() { closeErr <- client.Close() }()

	server.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := server.Read(make([]byte, 16)); err != io.EOF {
		t.Errorf("server read after client close: got %v, want io.EOF", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("server Close: %v", err)
	}
	if err := <-closeErr; err != nil {
		t.Errorf("client Close: %v", err)
	}
	if client.State() != StateClosed || server.State() != StateClosed {
		t.Errorf("end states: client %s server %s, want CLOSED/CLOSED", client.State(), server.State())
	}
}

func TestTransferOverLossyLink(t *testing.T) {
	if testing.Short() {
		t.Skip("lossy transfer takes a few seconds")
	}

	core, err := NewBtcpCore(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	clientEnd, serverEnd := lossy.Pipe()
	defer clientEnd.Close()

	hostile := &lossy.SimulatorConfig{
		DropRate:      0.15,
		CorruptRate:   0.05,
		DuplicateRate: 0.1,
		DelayRate:     0.1,
		MaxDelay:      20 * time.Millisecond,
	}
	hostile.Seed = 1
	clientLink := lossy.NewSimulator(clientEnd, hostile)
	serverHostile := *hostile
	serverHostile.Seed = 2
	serverLink := lossy.NewSimulator(serverEnd, &serverHostile)

	received := make(chan drainResult, 1)
	go func() { received <- acceptAndDrain(core, serverLink) }()

	client, err := core.Dial(clientLink, fastConnConfig())
	if err != nil {
		t.Fatalf("Dial over lossy link: %v", err)
	}

	pattern := testPattern(8 * 1024)
	if _, err := client.Write(pattern); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	result := <-received
	if result.err != nil {
		t.Fatalf("server side: %v", result.err)
	}
	if !bytes.Equal(result.data, pattern) {
		t.Fatalf("lossy transfer corrupted the stream: got %d bytes, want %d",
			len(result.data), len(pattern))
	}
}

func TestDuplicatesDeliverExactlyOnce(t *testing.T) {
	core, err := NewBtcpCore(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	clientEnd, serverEnd := lossy.Pipe()
	defer clientEnd.Close()

	// every datagram sent twice, in both directions, nothing lost
	dupOnly := &lossy.SimulatorConfig{DuplicateRate: 1.0, Seed: 7}
	clientLink := lossy.NewSimulator(clientEnd, dupOnly)
	serverLink := lossy.NewSimulator(serverEnd, dupOnly)

	received := make(chan drainResult, 1)
	go func() { received <- acceptAndDrain(core, serverLink) }()

	client, err := core.Dial(clientLink, fastConnConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	pattern := testPattern(4 * 1024)
	if _, err := client.Write(pattern); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	result := <-received
	if result.err != nil {
		t.Fatalf("server side: %v", result.err)
	}
	if !bytes.Equal(result.data, pattern) {
		t.Fatalf("duplicated link broke exactly-once delivery: got %d bytes, want %d",
			len(result.data), len(pattern))
	}
	if core.Metrics().GetDuplicatesReacked() == 0 {
		t.Error("expected at least one re-acknowledged duplicate")
	}
}

func TestDialWithoutListenerTimesOut(t *testing.T) {
	core, err := NewBtcpCore(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	clientEnd, _ := lossy.Pipe()
	defer clientEnd.Close()

	config := fastConnConfig()
	config.Timeout = 20 * time.Millisecond
	config.MaxRetries = 3

	_, err = core.Dial(clientEnd, config)
	if err == nil {
		t.Fatal("Dial with nobody listening should fail")
	}
	netErr, ok := err.(net.Error)
	if !ok {
		t.Fatalf("error %T does not satisfy net.Error", err)
	}
	if !netErr.Timeout() {
		t.Error("handshake failure should report Timeout() == true")
	}
}

func TestReadDeadline(t *testing.T) {
	core, err := NewBtcpCore(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer core.Close()

	clientEnd, serverEnd := lossy.Pipe()
	defer clientEnd.Close()

	accepted := make(chan *Connection, 1)
	go func() {
		listener, _ := core.Listen(serverEnd, fastConnConfig())
		conn, _ := listener.Accept()
		accepted <- conn
	}()

	client, err := core.Dial(clientEnd, fastConnConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server := <-accepted
	if server == nil {
		t.Fatal("Accept failed")
	}

	client.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	start := time.Now()
	_, err = client.Read(make([]byte, 16))
	if err == nil {
		t.Fatal("Read past the deadline should fail")
	}
	netErr, ok := err.(net.Error)
	if !ok || !netErr.Timeout() {
		t.Errorf("deadline error should be a net.Error timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Read blocked %v past a 50ms deadline", elapsed)
	}

	// clearing the deadline makes reads block again, data unblocks them
	client.SetReadDeadline(time.Time{})
	if _, err := server.Write([]byte("late data")); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	buffer := make([]byte, 16)
	n, err := client.Read(buffer)
	if err != nil {
		t.Fatalf("Read after deadline cleared: %v", err)
	}
	if string(buffer[:n]) != "late data" {
		t.Errorf("got %q, want %q", buffer[:n], "late data")
	}

	client.Close()
	server.Close()
}
