// The monitor subscribes to the coordinator's NATS lifecycle events and logs
// them. It is an operational tool for watching matching and session activity
// without attaching to the coordinator itself.
package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/peerbridge/peer-app/internal/events"
)

func main() {
	log.Println("Starting peer support monitor...")

	natsURL := nats.DefaultURL
	if v := os.Getenv("NATS_URL"); v != "" {
		natsURL = v
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("peer-monitor"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(events.SubjectWildcard, func(msg *nats.Msg) {
		switch msg.Subject {
		case events.SubjectMatchMade:
			var ev events.MatchMadeEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("[monitor] bad payload on %s: %v", msg.Subject, err)
				return
			}
			log.Printf("[monitor] match made room=%s peers=%s,%s", ev.RoomID, ev.PeerA, ev.PeerB)

		case events.SubjectSessionStarted:
			var ev events.SessionEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("[monitor] bad payload on %s: %v", msg.Subject, err)
				return
			}
			log.Printf("[monitor] session started room=%s", ev.RoomID)

		case events.SubjectSessionEnded:
			var ev events.SessionEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("[monitor] bad payload on %s: %v", msg.Subject, err)
				return
			}
			log.Printf("[monitor] session ended room=%s reason=%s", ev.RoomID, ev.Reason)

		case events.SubjectQueueCancelled:
			var ev events.CancelEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Printf("[monitor] bad payload on %s: %v", msg.Subject, err)
				return
			}
			log.Printf("[monitor] queue cancelled student=%s", ev.StudentID)

		default:
			log.Printf("[monitor] %s: %s", msg.Subject, msg.Data)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	log.Printf("peer support monitor running")
	log.Printf("  nats_url: %s", natsURL)
	log.Printf("  subject:  %s", events.SubjectWildcard)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)
}
