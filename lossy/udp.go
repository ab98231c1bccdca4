package lossy

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	udpQueueDepth   = 1024
	udpReadDeadline = 500 * time.Millisecond
	maxDatagramSize = 65535
)

// UDPChannel carries bTCP segments inside UDP datagrams. A background reader
// feeds inbound datagrams into a queue so Receive never blocks the caller.
type UDPChannel struct {
	conn    *net.UDPConn
	mu      sync.Mutex
	remote  *net.UDPAddr // nil on a listening endpoint until the first datagram arrives
	inbound chan []byte

	closeSignal chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// DialUDP creates a channel endpoint talking to a fixed remote address.
func DialUDP(localAddr, remoteAddr string) (*UDPChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving remote address %s", remoteAddr)
	}
	var laddr *net.UDPAddr
	if localAddr != "" {
		laddr, err = net.ResolveUDPAddr("udp", localAddr)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving local address %s", localAddr)
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "binding udp socket")
	}
	return newUDPChannel(conn, raddr), nil
}

// ListenUDP creates a channel endpoint bound to localAddr. The remote address
// is learned from the first inbound datagram, so a listener can serve one
// peer at a time.
func ListenUDP(localAddr string) (*UDPChannel, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving local address %s", localAddr)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "binding udp socket")
	}
	return newUDPChannel(conn, nil), nil
}

func newUDPChannel(conn *net.UDPConn, remote *net.UDPAddr) *UDPChannel {
	u := &UDPChannel{
		conn:        conn,
		remote:      remote,
		inbound:     make(chan []byte, udpQueueDepth),
		closeSignal: make(chan struct{}),
	}
	u.wg.Add(1)
	go u.readLoop()
	return u
}

func (u *UDPChannel) readLoop() {
	defer u.wg.Done()

	buffer := make([]byte, maxDatagramSize)
	for {
		select {
		case <-u.closeSignal:
			return
		default:
		}

		// Read deadline keeps the loop interruptible by closeSignal
		u.conn.SetReadDeadline(time.Now().Add(udpReadDeadline))
		n, addr, err := u.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-u.closeSignal:
			default:
				log.Println("UDPChannel.readLoop: error reading:", err)
			}
			return
		}

		u.mu.Lock()
		if u.remote == nil {
			u.remote = addr
			log.Printf("UDPChannel: learned peer address %s", addr)
		}
		known := u.remote
		u.mu.Unlock()

		// a listening endpoint serves a single peer; strangers are ignored
		if addr.IP.String() != known.IP.String() || addr.Port != known.Port {
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		select {
		case u.inbound <- data:
		default:
			// inbound queue full: treat as loss, the protocol retransmits
		}
	}
}

func (u *UDPChannel) Send(p []byte) error {
	select {
	case <-u.closeSignal:
		return errors.New("send on closed udp channel")
	default:
	}

	u.mu.Lock()
	remote := u.remote
	u.mu.Unlock()
	if remote == nil {
		// nothing to address the datagram to yet
		return nil
	}
	_, err := u.conn.WriteToUDP(p, remote)
	return errors.Wrap(err, "udp send")
}

func (u *UDPChannel) Receive() ([]byte, bool) {
	select {
	case data := <-u.inbound:
		return data, true
	default:
		return nil, false
	}
}

// LocalAddr returns the bound UDP address.
func (u *UDPChannel) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDPChannel) Close() error {
	u.closeOnce.Do(func() {
		close(u.closeSignal)
		u.conn.Close()
		u.wg.Wait()
	})
	return nil
}
