package main

import (
	"flag"
	"io"
	"log"
	"time"

	"github.com/dineshk-l/netsec-btcp-project/config"
	"github.com/dineshk-l/netsec-btcp-project/lib"
	"github.com/dineshk-l/netsec-btcp-project/lossy"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8901", "UDP address to listen on")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	coreConfig := &lib.CoreConfig{
		PayloadPoolSize:   config.AppConfig.PayloadPoolSize,
		MaxPayloadSize:    config.AppConfig.MaxPayloadSize,
		MetricsEnabled:    config.AppConfig.Metrics.Enabled,
		MetricsListen:     config.AppConfig.Metrics.Listen,
		MetricsPath:       config.AppConfig.Metrics.Path,
		MetricsHealthPath: config.AppConfig.Metrics.HealthPath,
	}
	core, err := lib.NewBtcpCore(coreConfig)
	if err != nil {
		log.Println(err)
		return
	}
	defer core.Close()

	connConfig := &lib.ConnectionConfig{
		Window:         config.AppConfig.Window,
		Timeout:        time.Duration(config.AppConfig.TimeoutMs) * time.Millisecond,
		MaxRetries:     config.AppConfig.MaxRetries,
		TickInterval:   time.Duration(config.AppConfig.TickIntervalMs) * time.Millisecond,
		MaxPayloadSize: config.AppConfig.MaxPayloadSize,
		SendBufferSize: config.AppConfig.SendBufferSize,
		RecvBufferSize: config.AppConfig.RecvBufferSize,
	}

	log.Printf("Echo server listening on %s\n", *listenAddr)

	// a UDP channel serves one peer at a time, so rebind per connection
	for {
		channel, err := lossy.ListenUDP(*listenAddr)
		if err != nil {
			log.Fatalln("Listen error:", err)
		}

		srv, err := core.Listen(channel, connConfig)
		if err != nil {
			log.Println("Listen error:", err)
			channel.Close()
			continue
		}

		conn, err := srv.Accept()
		if err != nil {
			log.Println("Accept error:", err)
			channel.Close()
			continue
		}
		log.Println("New connection accepted")
		handleConn(conn)
		channel.Close()
	}
}

func handleConn(c *lib.Connection) {
	defer c.Close()
	buf := make([]byte, config.AppConfig.MaxPayloadSize)
	for {
		n, err := c.Read(buf)
		if err != nil {
			if err == io.EOF {
				log.Println("Connection closed by client")
				return
			}
			log.Println("Read error:", err)
			return
		}
		log.Printf("Echo server got: %s", string(buf[:n]))
		_, err = c.Write(buf[:n])
		if err != nil {
			log.Println("Write error:", err)
			return
		}
	}
}
