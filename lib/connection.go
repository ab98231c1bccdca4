package lib

import (
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dineshk-l/netsec-btcp-project/lossy"
	"github.com/dineshk-l/netsec-btcp-project/metrics"
)

// ConnectionConfig carries the per-connection protocol parameters.
type ConnectionConfig struct {
	Window         int           // max outstanding unacked segments, 1-255
	Timeout        time.Duration // retransmission timeout
	MaxRetries     int           // resend attempts before the connection is aborted
	TickInterval   time.Duration // network loop tick
	MaxPayloadSize int           // max payload bytes per segment
	SendBufferSize int           // application send buffer in bytes
	RecvBufferSize int           // application receive buffer in bytes
}

// DefaultConnectionConfig returns working defaults matching the config
// package's.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Window:         16,
		Timeout:        100 * time.Millisecond,
		MaxRetries:     25,
		TickInterval:   10 * time.Millisecond,
		MaxPayloadSize: 1008,
		SendBufferSize: 64 * 1024,
		RecvBufferSize: 64 * 1024,
	}
}

// inFlightSegment is a sent data segment awaiting acknowledgment.
type inFlightSegment struct {
	segment      *Segment
	endSeq       uint16 // sequence number right after this segment
	lastSentTime time.Time
	resendCount  int
}

// Connection is one bTCP endpoint. A single network loop goroutine owns all
// protocol state; the application thread interacts only through the signal
// mailbox and the condition-variable-gated buffers.
type Connection struct {
	config   *ConnectionConfig
	channel  lossy.Channel
	isServer bool
	metrics  *metrics.BtcpMetrics

	// protocol state, owned by the network loop (under mu)
	state              State
	nextSequenceNumber uint16 // next SEQ to assign to an outgoing segment
	highestAcked       uint16 // highest cumulative ACK received from the peer
	expectedSeqNumber  uint16 // next SEQ expected from the peer
	peerWindow         uint8  // peer-advertised window in segments

	// Go-Back-N send state: one timer for the oldest unacked segment
	inFlight       []*inFlightSegment
	resendDeadline time.Time
	resendRetries  int

	// handshake/teardown control segment awaiting its response
	pendingSignal  *Segment
	signalDeadline time.Time
	signalRetries  int

	shutdownRequested bool

	// cross-thread plumbing
	signalChan chan Signal
	mu         sync.Mutex
	sendCond   *sync.Cond // signalled when send buffer drains or send becomes impossible
	recvCond   *sync.Cond // signalled when receive buffer fills, peer closes, or deadline moves
	stateCond  *sync.Cond // signalled on FSM state changes and terminal errors

	sendBuf      []byte
	recvBuf      []byte
	readDeadline time.Time
	peerClosed      bool  // peer FIN accepted
	connErr         error // terminal error, e.g. retries exhausted
	isClosed        bool  // reached CLOSED (gracefully or not)
	everEstablished bool  // handshake completed at least once

	closeSignal chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	frameBuffer []byte // marshal scratch, network loop only
}

func newConnection(channel lossy.Channel, isServer bool, config *ConnectionConfig, m *metrics.BtcpMetrics) *Connection {
	if config == nil {
		config = DefaultConnectionConfig()
	} else if config.Window < 1 || config.Window > 255 {
		// the window rides in an 8-bit header field; clamp rather than
		// truncate when the caller skipped config validation
		clamped := *config
		if clamped.Window < 1 {
			clamped.Window = 1
		} else {
			clamped.Window = 255
		}
		config = &clamped
	}
	conn := &Connection{
		config:      config,
		channel:     channel,
		isServer:    isServer,
		metrics:     m,
		state:       StateClosed,
		peerWindow:  1, // until the peer advertises one
		signalChan:  make(chan Signal, 8),
		closeSignal: make(chan struct{}),
		frameBuffer: make([]byte, HeaderLength+config.MaxPayloadSize),
	}
	conn.sendCond = sync.NewCond(&conn.mu)
	conn.recvCond = sync.NewCond(&conn.mu)
	conn.stateCond = sync.NewCond(&conn.mu)

	conn.wg.Add(1)
	go conn.networkLoop()

	return conn
}

// networkLoop is the single driver of the connection: each tick it consumes
// at most one application signal, drains inbound raw segments, advances
// timers and pumps the send buffer. Nothing here ever blocks.
func (c *Connection) networkLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeSignal:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Connection) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consumeSignal()
	c.drainInbound()
	c.checkTimers()
	c.pumpSendBuffer()
	c.maybeSendFin()
}

// consumeSignal handles at most one application signal per tick.
func (c *Connection) consumeSignal() {
	var sig Signal
	select {
	case sig = <-c.signalChan:
	default:
		return
	}

	switch sig {
	case SignalAccept:
		if c.state != StateClosed {
			log.Printf("btcp: ACCEPT signal in state %s ignored", c.state)
			return
		}
		c.setState(StateAccepting)

	case SignalConnect:
		if c.state != StateClosed {
			log.Printf("btcp: CONNECT signal in state %s ignored", c.state)
			return
		}
		isn, err := GenerateISN()
		if err != nil {
			c.abort(fmt.Errorf("generating ISN: %s", err))
			return
		}
		c.nextSequenceNumber = isn
		syn := NewSegment(c.nextSequenceNumber, 0, SYNFlag, nil, c)
		c.nextSequenceNumber = SeqIncrement(c.nextSequenceNumber) // SYN consumes one sequence number
		c.startSignalTimer(syn)
		c.transmit(syn, false)
		c.setState(StateSynSent)

	case SignalShutdown:
		c.shutdownRequested = true
		switch c.state {
		case StateClosed, StateAccepting, StateSynSent, StateSynRcvd:
			// nothing established to tear down
			c.enterClosed(nil)
		}
	}
}

// drainInbound decodes and dispatches every raw datagram queued by the
// channel. Corrupted or malformed datagrams are dropped as if lost.
func (c *Connection) drainInbound() {
	for {
		data, ok := c.channel.Receive()
		if !ok {
			return
		}

		if !VerifyChecksum(data) {
			c.metrics.AddChecksumFailure()
			log.Debugln("btcp: segment checksum verification failed, dropped")
			continue
		}

		segment := &Segment{}
		if err := segment.Unmarshal(data); err != nil {
			c.metrics.AddMalformedSegment()
			log.Debugln("btcp: malformed segment dropped:", err)
			continue
		}

		c.metrics.AddSegmentReceived(len(segment.Payload))
		c.handleSegment(segment)
		segment.ReturnChunk() // accepted payload has been copied out by now
	}
}

// handleSegment runs the (state, trigger) transition table. Segments bearing
// flags the current state has no transition for are dropped.
func (c *Connection) handleSegment(segment *Segment) {
	if segment.Window > 0 {
		c.peerWindow = segment.Window
	}

	isSYN := segment.Flags&SYNFlag != 0
	isACK := segment.Flags&ACKFlag != 0
	isFIN := segment.Flags&FINFlag != 0

	switch c.state {
	case StateAccepting:
		if isSYN && !isACK && !isFIN {
			c.handleSynPacket(segment)
		}

	case StateSynSent:
		if isSYN && isACK && segment.AckNum == c.nextSequenceNumber {
			c.stopSignalTimer()
			c.highestAcked = segment.AckNum
			c.expectedSeqNumber = SeqIncrement(segment.SeqNum)
			c.sendAck()
			c.setState(StateEstablished)
			c.metrics.AddHandshakeCompleted()
		}

	case StateSynRcvd:
		if isSYN && !isACK {
			// retransmitted SYN: our SYN-ACK was lost, the signal timer
			// will resend it
			return
		}
		if isACK && segment.AckNum == c.nextSequenceNumber {
			c.stopSignalTimer()
			c.highestAcked = segment.AckNum
			c.setState(StateEstablished)
			c.metrics.AddHandshakeCompleted()
			// the handshake ACK may already piggyback data
			if len(segment.Payload) > 0 {
				c.handleDataSegment(segment)
			}
		}

	case StateEstablished:
		if isSYN && isACK {
			// retransmitted SYN-ACK: our handshake ACK was lost
			c.sendAck()
			return
		}
		if isACK {
			c.processAck(segment.AckNum)
		}
		if isFIN {
			c.handleFinPacket(segment, StateCloseWait)
			return
		}
		if len(segment.Payload) > 0 {
			c.handleDataSegment(segment)
		}

	case StateCloseWait:
		if isACK {
			c.processAck(segment.AckNum)
		}
		if isFIN {
			// retransmitted FIN: our ACK was lost
			c.reAckFin(segment)
		}

	case StateFinSent:
		if isACK {
			c.processAck(segment.AckNum)
		}
		finAcked := isACK && segment.AckNum == c.nextSequenceNumber
		if isFIN {
			// peer FIN, possibly carrying the ACK of our own FIN: always
			// acknowledge it before concluding, or the peer's teardown stalls
			c.handleFinPacket(segment, StateClosing)
			if finAcked {
				c.stopSignalTimer()
				c.enterClosed(nil)
			}
			return
		}
		if finAcked {
			// our FIN is acknowledged
			c.stopSignalTimer()
			c.enterClosed(nil)
			return
		}
		// peer may still be sending data on its half of the stream
		if len(segment.Payload) > 0 {
			c.handleDataSegment(segment)
		}

	case StateClosing:
		if isACK && segment.AckNum == c.nextSequenceNumber {
			c.stopSignalTimer()
			c.enterClosed(nil)
			return
		}
		if isFIN {
			c.reAckFin(segment)
		}

	case StateClosed:
		if isFIN && isLessOrEqual(segment.SeqNum, c.expectedSeqNumber) {
			// a pure ACK of our FIN may complete the close before the peer's
			// own FIN arrives; accept and acknowledge it here, or the peer
			// retransmits until its retries exhaust
			if segment.SeqNum == c.expectedSeqNumber {
				c.expectedSeqNumber = SeqIncrement(segment.SeqNum) // FIN consumes one sequence number
				c.peerClosed = true
			} else {
				c.metrics.AddDuplicateReacked()
			}
			c.sendAck()
		}
	}
}

// handleSynPacket starts the server side of the 3-way handshake.
func (c *Connection) handleSynPacket(segment *Segment) {
	isn, err := GenerateISN()
	if err != nil {
		c.abort(fmt.Errorf("generating ISN: %s", err))
		return
	}
	c.expectedSeqNumber = SeqIncrement(segment.SeqNum)
	c.nextSequenceNumber = isn
	synAck := NewSegment(c.nextSequenceNumber, c.expectedSeqNumber, SYNFlag|ACKFlag, nil, c)
	c.nextSequenceNumber = SeqIncrement(c.nextSequenceNumber) // SYN consumes one sequence number
	c.startSignalTimer(synAck)
	c.transmit(synAck, false)
	c.setState(StateSynRcvd)
}

// handleDataSegment applies the Go-Back-N receive policy: accept only the
// next expected segment, re-acknowledge duplicates, silently discard gaps.
func (c *Connection) handleDataSegment(segment *Segment) {
	switch {
	case segment.SeqNum == c.expectedSeqNumber:
		if len(c.recvBuf)+len(segment.Payload) > c.config.RecvBufferSize {
			// no room: drop without acknowledgment, the peer's
			// retransmission delivers it once the application catches up
			log.Debugf("btcp: receive buffer full, dropping segment seq=%d", segment.SeqNum)
			return
		}
		c.recvBuf = append(c.recvBuf, segment.Payload...)
		c.expectedSeqNumber = SeqIncrementBy(c.expectedSeqNumber, uint16(len(segment.Payload)))
		c.sendAck()
		c.recvCond.Broadcast()

	case isLess(segment.SeqNum, c.expectedSeqNumber):
		// duplicate of already-delivered data: discard the payload but
		// re-acknowledge so a peer stalled on a lost ACK can recover
		c.metrics.AddDuplicateReacked()
		c.sendAck()

	default:
		// gap: this receiver does not buffer out-of-order segments
		c.metrics.AddGapDiscarded()
	}
}

// handleFinPacket accepts an in-order peer FIN, acknowledges it and moves to
// nextState (CLOSE_WAIT from ESTABLISHED, CLOSING on simultaneous close).
func (c *Connection) handleFinPacket(segment *Segment, nextState State) {
	switch {
	case segment.SeqNum == c.expectedSeqNumber:
		c.expectedSeqNumber = SeqIncrement(segment.SeqNum) // FIN consumes one sequence number
		c.sendAck()
		c.peerClosed = true
		c.recvCond.Broadcast()
		c.setState(nextState)

	case isLess(segment.SeqNum, c.expectedSeqNumber):
		c.reAckFin(segment)

	default:
		// FIN ahead of expected data would reorder the stream end: drop it,
		// the peer retransmits after we catch up
	}
}

// reAckFin re-acknowledges a retransmitted FIN whose ACK got lost.
func (c *Connection) reAckFin(segment *Segment) {
	if isLess(segment.SeqNum, c.expectedSeqNumber) {
		c.metrics.AddDuplicateReacked()
		c.sendAck()
	}
}

// processAck applies cumulative acknowledgment semantics: advance the
// highest-acked marker, slide the window, and reset or cancel the timer.
// ACKs for sequence numbers never sent are dropped; a corrupted-but-
// checksum-valid ack field must not free unacked segments.
func (c *Connection) processAck(ackNum uint16) {
	if !isGreater(ackNum, c.highestAcked) || isGreater(ackNum, c.nextSequenceNumber) {
		return
	}
	c.highestAcked = ackNum

	freed := false
	for len(c.inFlight) > 0 && isLessOrEqual(c.inFlight[0].endSeq, ackNum) {
		c.inFlight[0].segment.ReturnChunk()
		c.inFlight = c.inFlight[1:]
		freed = true
	}

	if len(c.inFlight) == 0 {
		c.resendDeadline = time.Time{}
	} else {
		c.resendDeadline = time.Now().Add(c.config.Timeout)
	}
	c.resendRetries = 0

	if freed {
		c.sendCond.Broadcast()
	}
}

// checkTimers advances the retransmission deadlines. Both the handshake /
// teardown control segment and the Go-Back-N window share the same
// discipline: resend on expiry, abort after MaxRetries.
func (c *Connection) checkTimers() {
	now := time.Now()

	if c.pendingSignal != nil && !c.signalDeadline.IsZero() && now.After(c.signalDeadline) {
		if c.signalRetries >= c.config.MaxRetries {
			c.abort(newTimeoutError(fmt.Sprintf("btcp: %s retries exhausted in state %s", flagsString(c.pendingSignal.Flags), c.state)))
			return
		}
		c.signalRetries++
		c.metrics.AddRetransmitTimeout()
		c.metrics.AddSegmentResent()
		c.sendRaw(c.pendingSignal)
		c.signalDeadline = now.Add(c.config.Timeout)
	}

	if len(c.inFlight) > 0 && !c.resendDeadline.IsZero() && now.After(c.resendDeadline) {
		if c.resendRetries >= c.config.MaxRetries {
			c.abort(newTimeoutError("btcp: data retransmission retries exhausted"))
			return
		}
		c.resendRetries++
		c.metrics.AddRetransmitTimeout()
		// Go-Back-N: every outstanding segment is resent in original order
		for _, info := range c.inFlight {
			info.segment.AckNum = c.expectedSeqNumber // refresh piggybacked ack
			info.lastSentTime = now
			info.resendCount++
			c.metrics.AddSegmentResent()
			c.sendRaw(info.segment)
		}
		c.resendDeadline = now.Add(c.config.Timeout)
	}
}

// pumpSendBuffer segments buffered application data within the window bound.
func (c *Connection) pumpSendBuffer() {
	if c.state != StateEstablished && c.state != StateCloseWait {
		return
	}

	sent := false
	for len(c.sendBuf) > 0 && len(c.inFlight) < c.effectiveWindow() {
		n := len(c.sendBuf)
		if n > c.config.MaxPayloadSize {
			n = c.config.MaxPayloadSize
		}
		segment := NewSegment(c.nextSequenceNumber, c.expectedSeqNumber, ACKFlag, c.sendBuf[:n], c)
		if segment == nil {
			return // payload pool exhausted, retry next tick
		}
		c.sendBuf = c.sendBuf[n:]
		c.nextSequenceNumber = SeqIncrementBy(c.nextSequenceNumber, uint16(n))
		c.inFlight = append(c.inFlight, &inFlightSegment{
			segment:      segment,
			endSeq:       c.nextSequenceNumber,
			lastSentTime: time.Now(),
		})
		c.transmit(segment, false)
		if c.resendDeadline.IsZero() {
			c.resendDeadline = time.Now().Add(c.config.Timeout)
		}
		sent = true
	}
	if sent {
		c.sendCond.Broadcast()
	}
}

// maybeSendFin initiates teardown once a requested shutdown (or the
// automatic close after a peer FIN) has flushed all outstanding data.
func (c *Connection) maybeSendFin() {
	initiate := false
	var next State
	switch c.state {
	case StateEstablished:
		initiate = c.shutdownRequested
		next = StateFinSent
	case StateCloseWait:
		// passive close completes on its own once the stream drains
		initiate = true
		next = StateClosing
	default:
		return
	}
	if !initiate || len(c.sendBuf) > 0 || len(c.inFlight) > 0 || c.pendingSignal != nil {
		return
	}

	fin := NewSegment(c.nextSequenceNumber, c.expectedSeqNumber, FINFlag|ACKFlag, nil, c)
	c.nextSequenceNumber = SeqIncrement(c.nextSequenceNumber) // FIN consumes one sequence number
	c.startSignalTimer(fin)
	c.transmit(fin, false)
	c.setState(next)
	c.sendCond.Broadcast() // writers must fail now
}

// effectiveWindow bounds outstanding segments by both the local and the
// peer-advertised window.
func (c *Connection) effectiveWindow() int {
	w := c.config.Window
	if int(c.peerWindow) < w {
		w = int(c.peerWindow)
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (c *Connection) localWindow() uint8 {
	return uint8(c.config.Window)
}

// sendAck emits a pure cumulative acknowledgment naming the next expected
// sequence number. Pure ACKs consume no sequence number and are never
// retransmitted; the peer's own timers recover from their loss.
func (c *Connection) sendAck() {
	ack := NewSegment(c.nextSequenceNumber, c.expectedSeqNumber, ACKFlag, nil, c)
	c.transmit(ack, false)
}

// transmit marshals and sends a segment for the first time.
func (c *Connection) transmit(segment *Segment, isResend bool) {
	c.sendRaw(segment)
	if isResend {
		c.metrics.AddSegmentResent()
	} else {
		c.metrics.AddSegmentSent(len(segment.Payload))
	}
}

func (c *Connection) sendRaw(segment *Segment) {
	n, err := segment.Marshal(c.frameBuffer)
	if err != nil {
		log.Println("btcp: error marshalling segment:", err)
		return
	}
	if err := c.channel.Send(c.frameBuffer[:n]); err != nil {
		log.Debugln("btcp: channel send failed:", err)
	}
}

func (c *Connection) startSignalTimer(segment *Segment) {
	c.pendingSignal = segment
	c.signalRetries = 0
	c.signalDeadline = time.Now().Add(c.config.Timeout)
}

func (c *Connection) stopSignalTimer() {
	c.pendingSignal = nil
	c.signalDeadline = time.Time{}
	c.signalRetries = 0
}

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	log.Debugf("btcp: state %s -> %s", c.state, s)
	c.state = s
	if s == StateEstablished && !c.everEstablished {
		c.everEstablished = true
		c.metrics.IncConnections()
	}
	c.stateCond.Broadcast()
}

// enterClosed finishes the connection, gracefully when err is nil.
func (c *Connection) enterClosed(err error) {
	c.setState(StateClosed)
	c.isClosed = true
	if err != nil && c.connErr == nil {
		c.connErr = err
	}
	c.releaseInFlight()
	c.stopSignalTimer()
	c.sendCond.Broadcast()
	c.recvCond.Broadcast()
	c.stateCond.Broadcast()
}

// abort forces the connection to CLOSED and surfaces err to the application.
func (c *Connection) abort(err error) {
	log.Println("btcp: connection aborted:", err)
	c.metrics.AddConnectionAborted()
	c.enterClosed(err)
}

func (c *Connection) releaseInFlight() {
	for _, info := range c.inFlight {
		info.segment.ReturnChunk()
	}
	c.inFlight = nil
	c.resendDeadline = time.Time{}
}

func flagsString(flags uint8) string {
	switch {
	case flags&SYNFlag != 0 && flags&ACKFlag != 0:
		return "SYN-ACK"
	case flags&SYNFlag != 0:
		return "SYN"
	case flags&FINFlag != 0:
		return "FIN"
	default:
		return "ACK"
	}
}

// ---------------------------------------------------------------------------
// Application-facing surface. These calls block the application thread until
// the network loop satisfies or fails them; none of them touch protocol
// state directly.
// ---------------------------------------------------------------------------

// signal places an application signal in the mailbox.
func (c *Connection) signal(sig Signal) error {
	select {
	case c.signalChan <- sig:
		return nil
	default:
		return fmt.Errorf("btcp: signal mailbox full, %s dropped", sig)
	}
}

// waitEstablished blocks until the handshake completes or fails.
func (c *Connection) waitEstablished() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state != StateEstablished && !c.isClosed {
		c.stateCond.Wait()
	}
	if c.state == StateEstablished {
		return nil
	}
	if c.connErr != nil {
		return c.connErr
	}
	return ErrConnectionClosed
}

// Read blocks until in-order data is available, the peer closes the stream
// (io.EOF once the buffer drains), the read deadline passes, or the
// connection dies.
func (c *Connection) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.recvBuf) == 0 {
		if c.connErr != nil {
			return 0, c.connErr
		}
		if c.peerClosed {
			return 0, io.EOF
		}
		if c.isClosed {
			return 0, ErrConnectionClosed
		}
		if !c.readDeadline.IsZero() {
			remaining := time.Until(c.readDeadline)
			if remaining <= 0 {
				return 0, newTimeoutError("btcp: read deadline exceeded")
			}
			timer := time.AfterFunc(remaining, func() {
				c.mu.Lock()
				c.recvCond.Broadcast()
				c.mu.Unlock()
			})
			c.recvCond.Wait()
			timer.Stop()
		} else {
			c.recvCond.Wait()
		}
	}

	n := copy(b, c.recvBuf)
	c.recvBuf = c.recvBuf[n:]
	return n, nil
}

// Write appends data to the send buffer, blocking while it is full. It
// returns once every byte has been accepted for transmission, which is not
// the same as acknowledged.
func (c *Connection) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for len(b) > 0 {
		for c.writable() && c.config.SendBufferSize-len(c.sendBuf) == 0 {
			c.sendCond.Wait()
		}
		if !c.writable() {
			if c.connErr != nil {
				return total, c.connErr
			}
			return total, ErrConnectionClosed
		}
		n := c.config.SendBufferSize - len(c.sendBuf)
		if n > len(b) {
			n = len(b)
		}
		c.sendBuf = append(c.sendBuf, b[:n]...)
		b = b[n:]
		total += n
	}
	return total, nil
}

// writable reports whether the send path is still open. Requires mu held.
func (c *Connection) writable() bool {
	if c.isClosed || c.shutdownRequested {
		return false
	}
	return c.state == StateEstablished || c.state == StateCloseWait ||
		c.state == StateAccepting || c.state == StateSynSent || c.state == StateSynRcvd
}

// SetReadDeadline sets the deadline for future and pending Read calls.
// A zero time means reads never time out.
func (c *Connection) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	c.recvCond.Broadcast()
	return nil
}

// State returns the current FSM state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close requests a graceful shutdown: buffered data is flushed within the
// retry bounds, FIN is exchanged, and the network loop is stopped. Close
// returns the connection's terminal error, if any.
func (c *Connection) Close() error {
	if err := c.signal(SignalShutdown); err != nil {
		log.Println("btcp:", err)
	}

	c.mu.Lock()
	for !c.isClosed {
		c.stateCond.Wait()
	}
	err := c.connErr
	c.mu.Unlock()

	c.teardown()
	return err
}

// teardown stops the network loop. Idempotent. The channel stays open: its
// creator owns it, and a listener keeps reusing it across connections.
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.closeSignal)
		c.wg.Wait()
		if c.everEstablished {
			c.metrics.DecConnections()
		}

		c.mu.Lock()
		c.releaseInFlight()
		c.isClosed = true
		c.sendCond.Broadcast()
		c.recvCond.Broadcast()
		c.stateCond.Broadcast()
		c.mu.Unlock()
	})
}
