package lossy

import (
	"sync"

	"github.com/pkg/errors"
)

const pipeQueueDepth = 1024

// PipeChannel is one end of an in-memory datagram pipe. Datagram boundaries
// are preserved; delivery order matches send order unless a Simulator is
// stacked on top.
type PipeChannel struct {
	peer      chan []byte // datagrams travelling towards the peer
	local     chan []byte // datagrams arriving at this end
	closeOnce *sync.Once  // shared between both ends
	closed    chan struct{}
}

// Pipe returns two connected in-memory channel endpoints. Closing either end
// closes the whole pipe.
func Pipe() (*PipeChannel, *PipeChannel) {
	ab := make(chan []byte, pipeQueueDepth)
	ba := make(chan []byte, pipeQueueDepth)
	closed := make(chan struct{})
	once := new(sync.Once)
	a := &PipeChannel{peer: ab, local: ba, closeOnce: once, closed: closed}
	b := &PipeChannel{peer: ba, local: ab, closeOnce: once, closed: closed}
	return a, b
}

func (p *PipeChannel) Send(data []byte) error {
	select {
	case <-p.closed:
		return errors.New("send on closed pipe channel")
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.peer <- buf:
	default:
		// queue full: the link is unreliable, so overflow is just loss
	}
	return nil
}

func (p *PipeChannel) Receive() ([]byte, bool) {
	select {
	case data := <-p.local:
		return data, true
	default:
		return nil, false
	}
}

// Close closes both ends of the pipe.
func (p *PipeChannel) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}
