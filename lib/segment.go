package lib

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	log "github.com/sirupsen/logrus"
)

// Flag constants. The flag byte packs SYN, ACK and FIN.
const (
	FINFlag uint8 = 1 << 0
	ACKFlag uint8 = 1 << 1
	SYNFlag uint8 = 1 << 2
)

// HeaderLength is the fixed bTCP header size in bytes:
// seq:u16 | ack:u16 | flags:u8 | window:u8 | length:u16 | checksum:u16
const HeaderLength = 10

// Segment represents one bTCP segment.
type Segment struct {
	SeqNum   uint16 // sequence number of the first payload byte (or of SYN/FIN)
	AckNum   uint16 // next sequence number expected from the peer
	Flags    uint8  // SYN / ACK / FIN
	Window   uint8  // advertised receive window in segments
	Length   uint16 // payload byte count
	Checksum uint16 // Internet checksum over header (field zeroed) + payload
	Payload  []byte

	Conn  *Connection // outgoing segments only: the owning connection
	chunk *rp.Element // pooled chunk backing Payload
}

// Marshal packs the segment into buffer and returns the wire length. The
// checksum field is written last, computed over the header with the field
// zeroed plus the payload.
func (s *Segment) Marshal(buffer []byte) (int, error) {
	frameLength := HeaderLength + len(s.Payload)
	if frameLength > len(buffer) {
		return 0, fmt.Errorf("buffer size (%d) is too small to hold the segment (%d)", len(buffer), frameLength)
	}

	binary.BigEndian.PutUint16(buffer[0:2], s.SeqNum)
	binary.BigEndian.PutUint16(buffer[2:4], s.AckNum)
	buffer[4] = s.Flags
	buffer[5] = s.Window
	binary.BigEndian.PutUint16(buffer[6:8], uint16(len(s.Payload)))
	// leave buffer[8:10] (checksum) as all zero for now
	binary.BigEndian.PutUint16(buffer[8:10], 0)

	if len(s.Payload) > 0 {
		copy(buffer[HeaderLength:], s.Payload)
	}

	s.Checksum = CalculateChecksum(buffer[:frameLength])
	binary.BigEndian.PutUint16(buffer[8:10], s.Checksum)

	return frameLength, nil
}

// Unmarshal parses raw wire bytes into the segment. It fails with
// ErrMalformedSegment when fewer than HeaderLength bytes are present or the
// length field does not match the trailing byte count. It does NOT verify
// the checksum; that is the caller's responsibility so corrupted-but-
// parseable segments get dropped at the right layer.
func (s *Segment) Unmarshal(data []byte) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("%w: %d bytes is too short for a header", ErrMalformedSegment, len(data))
	}

	s.SeqNum = binary.BigEndian.Uint16(data[0:2])
	s.AckNum = binary.BigEndian.Uint16(data[2:4])
	s.Flags = data[4]
	s.Window = data[5]
	s.Length = binary.BigEndian.Uint16(data[6:8])
	s.Checksum = binary.BigEndian.Uint16(data[8:10])

	if int(s.Length) != len(data)-HeaderLength {
		return fmt.Errorf("%w: length field %d does not match %d payload bytes", ErrMalformedSegment, s.Length, len(data)-HeaderLength)
	}

	if s.Length > 0 {
		if err := s.CopyToPayload(data[HeaderLength:]); err != nil {
			return fmt.Errorf("segment unmarshal: error copying payload - %s", err)
		}
	} else {
		s.Payload = nil
	}

	return nil
}

// NewSegment builds an outgoing segment for the given connection, copying
// data into a pooled payload chunk.
func NewSegment(seqNum, ackNum uint16, flags uint8, data []byte, conn *Connection) *Segment {
	newSegment := &Segment{
		SeqNum: seqNum,
		AckNum: ackNum,
		Flags:  flags,
		Window: conn.localWindow(),
		Conn:   conn,
	}
	if len(data) > 0 {
		if err := newSegment.CopyToPayload(data); err != nil {
			log.Println("NewSegment error:", err)
			return nil
		}
	}
	return newSegment
}

func (s *Segment) CopyToPayload(src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("Segment.CopyToPayload: source slice is empty")
	}
	s.GetChunk()
	if s.chunk == nil {
		return fmt.Errorf("Segment.CopyToPayload: got a nil chunk")
	}
	if err := s.chunk.Data.(*Payload).Copy(src); err != nil {
		s.ReturnChunk()
		return fmt.Errorf("Segment.CopyToPayload: %s", err)
	}
	s.Payload = s.chunk.Data.(*Payload).GetSlice()
	return nil
}

func (s *Segment) GetChunk() {
	s.chunk = Pool.GetElement()
}

func (s *Segment) ReturnChunk() {
	if s.chunk != nil {
		Pool.ReturnElement(s.chunk)
		s.chunk = nil
		s.Payload = nil
	}
}

func (s *Segment) GetChunkReference() *rp.Element {
	return s.chunk
}

// GenerateISN returns a random 16-bit initial sequence number.
func GenerateISN() (uint16, error) {
	var isn uint16
	err := binary.Read(rand.Reader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}
