package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"pumprelay/relay-server/internal/model"
	"pumprelay/relay-server/internal/protocol"
)

type inbound struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type outbound struct {
	Type    protocol.Type `json:"type"`
	Payload any           `json:"payload,omitempty"`
}

func main() {
	relayURL := flag.String("url", "ws://localhost:8080/ws", "Relay WebSocket URL")
	mac := flag.String("mac", "24:6F:28:00:00:01", "Device MAC address reported in duty cycle logs")
	localIP := flag.String("local-ip", "192.168.1.50", "Local IP reported in status updates")
	statusInterval := flag.Duration("status-interval", 5*time.Second, "Interval between status updates")
	cycleInterval := flag.Duration("cycle-interval", 20*time.Second, "Interval between automatic motor toggles; 0 disables")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline Wi-Fi RSSI to simulate")
	rssiJitter := flag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI")
	retry := flag.Duration("retry", 3*time.Second, "Delay before reconnecting after the socket drops")

	flag.Parse()

	u, err := url.Parse(*relayURL)
	if err != nil {
		log.Fatalf("invalid relay url: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newPump(*mac, *localIP, u.Host)
	rssi := func() int { return randomRSSI(*baseRSSI, *rssiJitter) }

	for {
		err := session(ctx, u.String(), p, *statusInterval, *cycleInterval, rssi)
		if ctx.Err() != nil {
			log.Print("received shutdown signal, exiting")
			return
		}
		log.Printf("relay session ended: %v; reconnecting in %s", err, *retry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(*retry):
		}
	}
}

// session runs one connection to the relay until it fails or ctx ends.
func session(ctx context.Context, relayURL string, p *pump, statusEvery, cycleEvery time.Duration, rssi func() int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", relayURL, err)
	}
	defer conn.Close()
	log.Printf("connected to relay %s", relayURL)

	send := func(msg outbound) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode %s: %w", msg.Type, err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	sendStatus := func() error {
		return send(outbound{Type: protocol.TypeStatusUpdate, Payload: p.status(rssi())})
	}
	upload := func(entry *model.LogEntry) error {
		if entry == nil {
			return nil
		}
		log.Printf("uploading duty cycle %s -> %s (%s)", entry.OnTime, entry.OffTime, entry.Duration)
		return send(outbound{Type: protocol.TypeUploadLog, Payload: entry})
	}

	if err := send(outbound{Type: protocol.TypeIdentify}); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if err := sendStatus(); err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	commands := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg inbound
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("ignoring undecodable frame: %v", err)
				continue
			}
			if msg.Type != string(protocol.TypeCommand) {
				continue
			}
			select {
			case commands <- msg.Command:
			case <-readCtx.Done():
				return
			}
		}
	}()

	statusTicker := time.NewTicker(statusEvery)
	defer statusTicker.Stop()

	var cycle <-chan time.Time
	if cycleEvery > 0 {
		cycleTicker := time.NewTicker(cycleEvery)
		defer cycleTicker.Stop()
		cycle = cycleTicker.C
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return ctx.Err()
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-statusTicker.C:
			err = sendStatus()
		case now := <-cycle:
			err = upload(p.toggle(now))
			if err == nil {
				err = sendStatus()
			}
		case command := <-commands:
			err = handleCommand(p, command, upload, sendStatus)
		}
		if err != nil {
			return err
		}
	}
}

func handleCommand(p *pump, command string, upload func(*model.LogEntry) error, sendStatus func() error) error {
	if command == protocol.ForceStatusUpdate {
		return sendStatus()
	}

	entry, ok := p.apply(command, time.Now())
	if !ok {
		log.Printf("ignoring unknown command %q", command)
		return nil
	}
	log.Printf("executed %s", command)
	if err := upload(entry); err != nil {
		return err
	}
	return sendStatus()
}

func randomRSSI(base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	delta := rand.Intn(jitter*2+1) - jitter
	return base + delta
}
