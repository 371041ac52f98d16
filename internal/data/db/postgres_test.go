package db

import (
	"context"
	"testing"

	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	svc, err := Open(context.Background(), logger.Nop(), Options{
		Driver:      DriverSQLite,
		DSN:         "file::memory:",
		AutoMigrate: true,
		Silent:      true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	if !svc.DB().Migrator().HasTable("conversion_run") {
		t.Fatalf("conversion_run table missing after migrate")
	}
	if svc.Driver() != DriverSQLite {
		t.Fatalf("Driver: want=%q got=%q", DriverSQLite, svc.Driver())
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), logger.Nop(), Options{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatalf("Open(mysql): expected error")
	}
	if _, err := Open(context.Background(), logger.Nop(), Options{Driver: DriverSQLite}); err == nil {
		t.Fatalf("Open(no dsn): expected error")
	}
}
