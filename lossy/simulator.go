package lossy

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SimulatorConfig sets the misbehaviour rates of a simulated lossy link.
// All rates are probabilities in [0, 1] applied independently per datagram.
type SimulatorConfig struct {
	DropRate      float64 // datagram silently discarded
	CorruptRate   float64 // one random bit flipped
	DuplicateRate float64 // datagram delivered twice
	DelayRate     float64 // datagram delayed by up to MaxDelay (causes reordering)
	MaxDelay      time.Duration
	Seed          int64 // 0 means seed from the clock
}

// DefaultSimulatorConfig returns a mildly hostile link: 10% loss, a little
// corruption and duplication, occasional delay.
func DefaultSimulatorConfig() *SimulatorConfig {
	return &SimulatorConfig{
		DropRate:      0.1,
		CorruptRate:   0.02,
		DuplicateRate: 0.05,
		DelayRate:     0.05,
		MaxDelay:      30 * time.Millisecond,
	}
}

// Simulator wraps a Channel and injects loss, corruption, duplication and
// delay on the send side. Wrapping both endpoints of a link covers both
// directions.
type Simulator struct {
	inner  Channel
	config *SimulatorConfig

	mu  sync.Mutex
	rng *rand.Rand

	dropped    uint64
	corrupted  uint64
	duplicated uint64
	delayed    uint64
}

// NewSimulator stacks loss simulation on top of an existing channel.
func NewSimulator(inner Channel, config *SimulatorConfig) *Simulator {
	if config == nil {
		config = DefaultSimulatorConfig()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		inner:  inner,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Send(p []byte) error {
	s.mu.Lock()
	drop := s.rng.Float64() < s.config.DropRate
	corrupt := s.rng.Float64() < s.config.CorruptRate
	duplicate := s.rng.Float64() < s.config.DuplicateRate
	delay := time.Duration(0)
	if s.config.DelayRate > 0 && s.rng.Float64() < s.config.DelayRate {
		delay = time.Duration(s.rng.Int63n(int64(s.config.MaxDelay) + 1))
	}
	var flipBit int
	if corrupt && len(p) > 0 {
		flipBit = s.rng.Intn(len(p) * 8)
	}
	s.mu.Unlock()

	if drop {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Debugf("simulator: dropped datagram (%d bytes)", len(p))
		return nil
	}

	data := make([]byte, len(p))
	copy(data, p)
	if corrupt && len(data) > 0 {
		data[flipBit/8] ^= 1 << (flipBit % 8)
		s.mu.Lock()
		s.corrupted++
		s.mu.Unlock()
	}

	deliver := func(d []byte) {
		if err := s.inner.Send(d); err != nil {
			log.Debugln("simulator: inner send failed:", err)
		}
	}

	if delay > 0 {
		s.mu.Lock()
		s.delayed++
		s.mu.Unlock()
		delayed := data
		time.AfterFunc(delay, func() { deliver(delayed) })
	} else {
		deliver(data)
	}

	if duplicate {
		s.mu.Lock()
		s.duplicated++
		s.mu.Unlock()
		dup := make([]byte, len(data))
		copy(dup, data)
		deliver(dup)
	}
	return nil
}

func (s *Simulator) Receive() ([]byte, bool) {
	return s.inner.Receive()
}

func (s *Simulator) Close() error {
	return s.inner.Close()
}

// Stats reports how many datagrams the simulator has interfered with.
func (s *Simulator) Stats() (dropped, corrupted, duplicated, delayed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped, s.corrupted, s.duplicated, s.delayed
}
