package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dineshk-l/netsec-btcp-project/config"
	"github.com/dineshk-l/netsec-btcp-project/lib"
	"github.com/dineshk-l/netsec-btcp-project/lossy"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8901", "Echo server UDP address")
	localAddr := flag.String("local", "", "Local UDP address (optional)")
	packetInterval := flag.Duration("interval", 500*time.Millisecond, "Interval between packets (e.g., 500ms, 1s)")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig("config.yaml")
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	coreConfig := &lib.CoreConfig{
		PayloadPoolSize: config.AppConfig.PayloadPoolSize,
		MaxPayloadSize:  config.AppConfig.MaxPayloadSize,
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

	channel, err := lossy.DialUDP(*localAddr, *serverAddr)
	if err != nil {
		log.Fatalln("UDP dial error:", err)
	}
	defer channel.Close()

	conn, err := core.Dial(channel, connConfig)
	if err != nil {
		fmt.Println("Error connecting:", err)
		return
	}

	fmt.Println("Echo client connected to server!")
	fmt.Printf("Sending packets at %v interval (press Ctrl+C to exit)...\n", *packetInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigChan
		close(done)
	}()

	buffer := make([]byte, config.AppConfig.MaxPayloadSize)
	successCount := 0
	failureCount := 0
	packetCount := 0

	ticker := time.NewTicker(*packetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			goto shutdown
		case <-ticker.C:
			packetCount++
			message := fmt.Sprintf("Echo message %d", packetCount)

			log.Printf("[%d] Sending: %s\n", packetCount, message)
			if _, err := conn.Write([]byte(message)); err != nil {
				log.Printf("[%d] Error writing: %v\n", packetCount, err)
				failureCount++
				goto shutdown
			}

			// read deadline keeps the loop responsive to Ctrl+C
			conn.SetReadDeadline(time.Now().Add(*packetInterval + 100*time.Millisecond))
			n, err := conn.Read(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					log.Printf("[%d] Read timeout (no response yet), continuing...\n", packetCount)
					failureCount++
					continue
				}
				if err == io.EOF {
					log.Println("Server closed the connection.")
					failureCount++
					goto shutdown
				}
				log.Printf("[%d] Error reading: %v\n", packetCount, err)
				failureCount++
				goto shutdown
			}

			response := string(buffer[:n])
			log.Printf("[%d] Received: %s\n", packetCount, response)
			if response == message {
				successCount++
			} else {
				log.Printf("[%d] Echo mismatch! Expected: %s, Got: %s\n", packetCount, message, response)
				failureCount++
			}
		}
	}

shutdown:
	fmt.Printf("\n=== Echo Client Statistics ===\n")
	fmt.Printf("Total packets sent: %d\n", packetCount)
	fmt.Printf("Successful echoes: %d\n", successCount)
	fmt.Printf("Failed echoes: %d\n", failureCount)
	if packetCount > 0 {
		successRate := float64(successCount) / float64(packetCount) * 100
		fmt.Printf("Success rate: %.1f%%\n", successRate)
	}

	conn.Close()
	fmt.Println("Echo client exit")
}
