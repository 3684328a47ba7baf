package main

import (
	"context"
	"fmt"
	"time"

	"github.com/irisdrone/trafficguard/config"
	"github.com/irisdrone/trafficguard/database"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/store"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	if cfg.RetentionDays <= 0 {
		log.Fatalf("❌ CLEANUP_RETENTION_DAYS must be positive, got %d", cfg.RetentionDays)
	}

	db, err := database.Connect(cfg.DatabaseURL, false)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)
	fmt.Printf("Start cleanup of records older than %s...\n", cutoff.Format(time.RFC3339))

	// Only resolved incidents are purged; active and verified ones stay
	purged, err := store.NewIncidentStore(db).PurgeBefore(ctx, models.IncidentResolved, cutoff)
	if err != nil {
		log.Fatalf("Failed to purge incidents: %v", err)
	}
	fmt.Printf("✅ Deleted %d resolved incidents\n", purged)

	purged, err = store.NewNotificationStore(db).PurgeReadBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Failed to purge notifications: %v", err)
	}
	fmt.Printf("✅ Deleted %d read notifications\n", purged)

	fmt.Println("Cleanup finished successfully")
}
