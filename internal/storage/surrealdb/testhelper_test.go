package surrealdb

import (
	"context"
	"os"
	"testing"

	"github.com/bobmcallan/provsync/internal/common"
	tcommon "github.com/bobmcallan/provsync/tests/common"
	surreal "github.com/surrealdb/surrealdb.go"
)

func TestMain(m *testing.M) {
	code := m.Run()
	tcommon.StopShared()
	os.Exit(code)
}

// testDB connects to the shared server and selects a fresh database with
// the schema applied.
func testDB(t *testing.T) *surreal.DB {
	t.Helper()

	srv := tcommon.SharedSurreal(t)
	ctx := context.Background()

	db, err := surreal.New(srv.Endpoint)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}
	t.Cleanup(func() {
		db.Close(context.Background())
	})

	if _, err := db.SignIn(ctx, map[string]any{
		"user": tcommon.SurrealUser,
		"pass": tcommon.SurrealPass,
	}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}
	if err := db.Use(ctx, srv.Namespace, tcommon.DatabaseName(t)); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}
	if err := defineSchema(ctx, db); err != nil {
		t.Fatalf("define schema: %v", err)
	}
	return db
}

// testManager returns a Manager over a fresh test database.
func testManager(t *testing.T) *Manager {
	t.Helper()
	return newManager(testDB(t), testLogger())
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
