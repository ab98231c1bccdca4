package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dineshk-l/netsec-btcp-project/lossy"
)

// A datagram gateway that sits between an echo client and server and
// misbehaves on purpose. Point the client at the gateway address and the
// gateway at the real server, then watch the protocol converge anyway.
var (
	gatewayAddr   string
	targetAddr    string
	dropRate      float64
	corruptRate   float64
	duplicateRate float64
	delayRate     float64
	maxDelay      time.Duration
)

func init() {
	flag.StringVar(&gatewayAddr, "listen", "127.0.0.1:8902", "Gateway UDP address")
	flag.StringVar(&targetAddr, "target", "127.0.0.1:8901", "Target server UDP address")
	flag.Float64Var(&dropRate, "droprate", 0.1, "Datagram drop rate (0.0-1.0)")
	flag.Float64Var(&corruptRate, "corruptrate", 0.02, "Single-bit corruption rate (0.0-1.0)")
	flag.Float64Var(&duplicateRate, "duprate", 0.05, "Duplication rate (0.0-1.0)")
	flag.Float64Var(&delayRate, "delayrate", 0.05, "Delay rate (0.0-1.0)")
	flag.DurationVar(&maxDelay, "maxdelay", 30*time.Millisecond, "Maximum injected delay")
	flag.Parse()
}

func main() {
	clientSide, err := lossy.ListenUDP(gatewayAddr)
	if err != nil {
		log.Fatalf("Gateway error listening at %s: %v", gatewayAddr, err)
	}
	defer clientSide.Close()

	serverSide, err := lossy.DialUDP("", targetAddr)
	if err != nil {
		log.Fatalf("Gateway error dialing target %s: %v", targetAddr, err)
	}
	defer serverSide.Close()

	simConfig := &lossy.SimulatorConfig{
		DropRate:      dropRate,
		CorruptRate:   corruptRate,
		DuplicateRate: duplicateRate,
		DelayRate:     delayRate,
		MaxDelay:      maxDelay,
	}
	toServer := lossy.NewSimulator(serverSide, simConfig)
	toClient := lossy.NewSimulator(clientSide, simConfig)

	log.Printf("Lossy gateway started at %s -> %s (drop: %.1f%%, corrupt: %.1f%%, dup: %.1f%%, delay: %.1f%%)",
		gatewayAddr, targetAddr, dropRate*100, corruptRate*100, duplicateRate*100, delayRate*100)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	forwarded := 0
	for {
		select {
		case <-signalChan:
			log.Println("\nReceived SIGINT (Ctrl+C). Shutting down...")
			dropped, corrupted, duplicated, delayed := toServer.Stats()
			log.Printf("client->server: dropped %d, corrupted %d, duplicated %d, delayed %d",
				dropped, corrupted, duplicated, delayed)
			dropped, corrupted, duplicated, delayed = toClient.Stats()
			log.Printf("server->client: dropped %d, corrupted %d, duplicated %d, delayed %d",
				dropped, corrupted, duplicated, delayed)
			log.Printf("forwarded %d datagrams total. Gateway exiting...", forwarded)
			return

		case <-ticker.C:
			for {
				data, ok := clientSide.Receive()
				if !ok {
					break
				}
				forwarded++
				if err := toServer.Send(data); err != nil {
					log.Println("Error forwarding client->server:", err)
				}
			}
			for {
				data, ok := serverSide.Receive()
				if !ok {
					break
				}
				forwarded++
				if err := toClient.Send(data); err != nil {
					log.Println("Error forwarding server->client:", err)
				}
			}
		}
	}
}
