package lib

import (
	rp "github.com/Clouded-Sabre/ringpool/lib"
	log "github.com/sirupsen/logrus"

	"github.com/dineshk-l/netsec-btcp-project/lossy"
	"github.com/dineshk-l/netsec-btcp-project/metrics"
)

// CoreConfig configures the shared bTCP core.
type CoreConfig struct {
	PayloadPoolSize int // number of payload chunks in the ring pool
	MaxPayloadSize  int // max payload bytes per segment, sizes the chunks

	MetricsEnabled    bool
	MetricsListen     string
	MetricsPath       string
	MetricsHealthPath string
}

func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		PayloadPoolSize: 2000,
		MaxPayloadSize:  1008,
	}
}

// BtcpCore owns the resources shared by every connection: the payload chunk
// pool, the metrics collector and the optional scrape endpoint.
type BtcpCore struct {
	config        *CoreConfig
	metrics       *metrics.BtcpMetrics
	metricsServer *metrics.Server
}

// NewBtcpCore starts the bTCP core. There should be one core per process.
func NewBtcpCore(coreConfig *CoreConfig) (*BtcpCore, error) {
	if coreConfig == nil {
		coreConfig = DefaultCoreConfig()
	}

	Pool = rp.NewRingPool("BTCP: ", coreConfig.PayloadPoolSize, NewPayload, coreConfig.MaxPayloadSize)

	core := &BtcpCore{
		config:  coreConfig,
		metrics: metrics.New(),
	}

	if coreConfig.MetricsEnabled {
		core.metricsServer = metrics.NewServer(coreConfig.MetricsListen, coreConfig.MetricsPath, coreConfig.MetricsHealthPath)
		core.metricsServer.MustRegister(metrics.NewBtcpCollector(core.metrics))
		core.metricsServer.Start()
	}

	log.Println("bTCP core started")

	return core, nil
}

// Metrics exposes the core's counters.
func (core *BtcpCore) Metrics() *metrics.BtcpMetrics {
	return core.metrics
}

// Dial opens a connection over the given channel and blocks until the
// three-way handshake completes or fails.
func (core *BtcpCore) Dial(channel lossy.Channel, connConfig *ConnectionConfig) (*Connection, error) {
	conn := newConnection(channel, false, connConfig, core.metrics)
	if err := conn.signal(SignalConnect); err != nil {
		conn.teardown()
		return nil, err
	}
	if err := conn.waitEstablished(); err != nil {
		conn.teardown()
		return nil, err
	}
	log.Println("bTCP connection established (initiator)")
	return conn, nil
}

// Listener accepts inbound connections over a channel, one at a time.
type Listener struct {
	core       *BtcpCore
	channel    lossy.Channel
	connConfig *ConnectionConfig
}

// Listen creates a listener on the given channel.
func (core *BtcpCore) Listen(channel lossy.Channel, connConfig *ConnectionConfig) (*Listener, error) {
	return &Listener{
		core:       core,
		channel:    channel,
		connConfig: connConfig,
	}, nil
}

// Accept blocks until a peer completes the three-way handshake. On
// handshake failure it returns the error; the caller may Accept again.
func (l *Listener) Accept() (*Connection, error) {
	conn := newConnection(l.channel, true, l.connConfig, l.core.metrics)
	if err := conn.signal(SignalAccept); err != nil {
		conn.teardown()
		return nil, err
	}
	if err := conn.waitEstablished(); err != nil {
		conn.teardown()
		return nil, err
	}
	log.Println("bTCP connection established (acceptor)")
	return conn, nil
}

// Close shuts the core down. Connections must be closed by their owners.
func (core *BtcpCore) Close() error {
	if core.metricsServer != nil {
		core.metricsServer.Stop()
	}
	log.Println("bTCP core closed")
	return nil
}
