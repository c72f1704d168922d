package moderation

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cidrbans/internal/bans"
	"cidrbans/internal/database"
)

var fixedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func setupRepository(t *testing.T) *bans.Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if _, err := database.SetupDB(database.WithExistingDB(db)); err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})

	return bans.NewRepository(database.NewBanStore(db),
		bans.WithLogger(log.New(io.Discard)),
		bans.WithClock(clock),
	)
}
