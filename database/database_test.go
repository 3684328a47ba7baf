package database

import (
	"testing"

	"github.com/irisdrone/trafficguard/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect("", false)
	assert.Error(t, err)
}

func TestOpenMigratesPipelineTables(t *testing.T) {
	db, err := Open(sqlite.Open("file::memory:"), logger.Silent)
	require.NoError(t, err)
	defer Close(db)

	for _, table := range []interface{}{&models.User{}, &models.Incident{}, &models.Notification{}, &models.Emergency{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}
}
