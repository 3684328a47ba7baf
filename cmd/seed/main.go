package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/irisdrone/trafficguard/config"
	"github.com/irisdrone/trafficguard/database"
	"github.com/irisdrone/trafficguard/handlers"
	"github.com/irisdrone/trafficguard/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// accounts that receive incident notifications and emergencies out of the box
var seedAccounts = []struct {
	Username string
	Role     string
}{
	{"admin", models.RoleAdmin},
	{"police", models.RolePolice},
	{"ambulance", models.RoleAmbulance},
}

func main() {
	cfg := config.Load()
	if cfg.SeedPassword == "" {
		log.Fatal("❌ SEED_PASSWORD must be set")
	}

	db, err := database.Connect(cfg.DatabaseURL, false)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	fmt.Println("🌱 Seeding users...")

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ Failed to hash password: %v", err)
	}

	for _, account := range seedAccounts {
		user, created, err := ensureUser(db, account.Username, account.Role, string(hashedBytes))
		if err != nil {
			log.Printf("❌ Failed to seed %s: %v", account.Username, err)
			continue
		}
		if created {
			fmt.Printf("✅ Created %s (%s)\n", user.Username, user.Role)
		} else {
			fmt.Printf("ℹ️  %s already exists\n", user.Username)
		}

		token, err := handlers.IssueToken([]byte(cfg.JWTSecret), user.ID, 24*time.Hour)
		if err != nil {
			log.Printf("❌ Failed to issue token for %s: %v", user.Username, err)
			continue
		}
		fmt.Printf("   token: %s\n", token)
	}

	fmt.Println("✅ All seeding completed.")
}

func ensureUser(db *gorm.DB, username, role, passwordHash string) (*models.User, bool, error) {
	var user models.User
	err := db.Where("username = ?", username).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user = models.User{Username: username, Role: role, PasswordHash: passwordHash}
	if err := db.Create(&user).Error; err != nil {
		return nil, false, err
	}
	return &user, true, nil
}
