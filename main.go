package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/config"
	"github.com/irisdrone/trafficguard/database"
	"github.com/irisdrone/trafficguard/escalation"
	"github.com/irisdrone/trafficguard/handlers"
	"github.com/irisdrone/trafficguard/metrics"
	"github.com/irisdrone/trafficguard/natsserver"
	"github.com/irisdrone/trafficguard/notify"
	"github.com/irisdrone/trafficguard/pipeline"
	"github.com/irisdrone/trafficguard/realtime"
	"github.com/irisdrone/trafficguard/store"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	if cfg.IsProduction() {
		log.SetFormatter(&log.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	defer database.Close(db)

	metrics.Register()

	// Realtime hub, fed through NATS so every replica sees every event
	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Stop()

	var broadcaster realtime.Broadcaster = hub
	natsConn, embedded, shutdownNATS, err := connectNATS(cfg)
	if err != nil {
		log.Warnf("⚠️ NATS unavailable, broadcasting to local sessions only: %v", err)
	} else {
		defer shutdownNATS()
		if _, err := hub.AttachRelay(natsConn); err != nil {
			log.Fatalf("❌ Failed to subscribe realtime relay: %v", err)
		}
		var pub realtime.Publisher = natsConn
		if embedded != nil {
			// counted, and reported on /api/realtime/stats
			pub = embedded
		}
		broadcaster = realtime.NewRelay(pub)
		log.Println("📺 Realtime hub attached to NATS relay")
	}

	incidents := store.NewIncidentStore(db)
	notifications := store.NewNotificationStore(db)
	emergencies := store.NewEmergencyStore(db)

	policy := escalation.Policy{
		Hotline:     cfg.Hotline,
		ContactName: cfg.ContactName,
		DefaultLocation: analysis.Location{
			Lat:  cfg.DefaultLat,
			Lon:  cfg.DefaultLon,
			Name: cfg.DefaultLocationName,
		},
	}
	p := pipeline.New(
		incidents,
		notify.New(store.NewUserDirectory(db), notifications, broadcaster, cfg.NotifyRoles),
		escalation.New(policy, emergencies, broadcaster, cfg.EmergencyRoles),
		broadcaster,
	)

	h := handlers.New(handlers.Deps{
		Analyzer:      analysis.NewClient(cfg.AnalysisServiceURL, cfg.AnalysisTimeout),
		Pipeline:      p,
		Incidents:     incidents,
		Notifications: notifications,
		Emergencies:   emergencies,
		Hub:           hub,
		NATS:          embedded,
		JWTSecret:     []byte(cfg.JWTSecret),
	})

	router := gin.Default()

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.Register(router, handlers.RateLimit(cfg.IntakeRatePerMin))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Server running on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("❌ Server shutdown failed: %v", err)
	}
}

// connectNATS dials NATS_URL when set, otherwise starts the embedded server.
// The embedded server is nil when an external NATS is used.
func connectNATS(cfg *config.Config) (*nats.Conn, *natsserver.EmbeddedNATS, func(), error) {
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("trafficguard-api"),
			nats.ReconnectWait(time.Second),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("📡 Connected to NATS at %s", cfg.NATSURL)
		return nc, nil, nc.Close, nil
	}

	natsCfg := natsserver.DefaultConfig()
	natsCfg.Port = cfg.NATSPort
	embedded, err := natsserver.New(natsCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return embedded.Conn(), embedded, embedded.Shutdown, nil
}
