package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/price-summarizer/internal/data/db"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

var dbSeq atomic.Int64

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logg, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	return logg
}

// DB returns a migrated ledger database. It uses TEST_POSTGRES_DSN when set,
// otherwise a private in-memory sqlite database.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	opts := db.Options{AutoMigrate: true, Silent: true}
	if dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN")); dsn != "" {
		opts.Driver = db.DriverPostgres
		opts.DSN = dsn
	} else {
		opts.Driver = db.DriverSQLite
		opts.DSN = fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", dbSeq.Add(1))
	}

	svc, err := db.Open(context.Background(), logger.Nop(), opts)
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	tb.Cleanup(func() { _ = svc.Close() })
	return svc.DB()
}

func Tx(tb testing.TB, gdb *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := gdb.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
