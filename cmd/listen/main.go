// Command listen connects to the realtime channel and prints every event it receives.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irisdrone/trafficguard/realtime"
	"github.com/irisdrone/trafficguard/realtime/client"
	log "github.com/sirupsen/logrus"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "Realtime websocket URL")
	token := flag.String("token", "", "Bearer token (see cmd/seed)")
	role := flag.String("role", "police", "Role room to join")
	userID := flag.String("user", "", "User id for the private room (ignored when a token is given)")
	lat := flag.Float64("lat", 0, "Latitude of the location room to join")
	lon := flag.Float64("lon", 0, "Longitude of the location room to join")
	located := flag.Bool("located", false, "Join the location room for -lat/-lon")
	heartbeat := flag.Duration("heartbeat", 25*time.Second, "Heartbeat interval")
	flag.Parse()

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	ch := client.New(client.Config{
		URL:               *url,
		Header:            header,
		Backoff:           client.DefaultBackoff(),
		HeartbeatInterval: *heartbeat,
		Identity: client.IdentityFunc(func() (client.Identity, bool) {
			return client.Identity{Role: *role, UserID: *userID}, *role != ""
		}),
		Location: client.LocationFunc(func() (float64, float64, bool) {
			return *lat, *lon, *located
		}),
	})

	done := make(chan struct{})
	ch.Register(client.TopicStatus, func(ev client.Event) {
		log.Printf("🔌 Status: %s", ev.Data)
	})
	ch.Register(client.TopicReconnectFailed, func(ev client.Event) {
		log.Printf("❌ Giving up: %s", ev.Data)
		close(done)
	})
	for _, topic := range []string{
		realtime.EventIncidentNew,
		realtime.EventIncidentNearby,
		realtime.EventEmergencyAuto,
		realtime.EventNotificationNew,
		realtime.EventError,
	} {
		topic := topic
		ch.Register(topic, func(ev client.Event) {
			fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), topic, ev.Data)
		})
	}

	if err := ch.Connect(); err != nil {
		log.Fatalf("❌ Failed to connect: %v", err)
	}
	log.Printf("📡 Listening on %s (channel %s)", *url, ch.ID())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}
	ch.Close()
}
