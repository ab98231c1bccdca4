// Package lossy provides the unreliable datagram channel a bTCP endpoint
// runs on top of: an in-memory pipe for tests, a UDP-backed channel for real
// traffic, and a simulator that injects loss, corruption, duplication, delay
// and reordering.
package lossy

// Channel is one endpoint of an unreliable datagram link. It may drop,
// corrupt, duplicate, delay or reorder datagrams at will; the protocol above
// it must tolerate all of that.
type Channel interface {
	// Send transmits one segment's wire bytes. The slice is not retained.
	Send(p []byte) error

	// Receive returns the next inbound datagram without blocking. The second
	// return value is false when nothing is pending. The returned slice is
	// owned by the caller.
	Receive() ([]byte, bool)

	// Close releases the channel. Sends after Close fail.
	Close() error
}
