package db_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nkmrt3/frnchat/internal/db"
	"github.com/nkmrt3/frnchat/internal/utils"
)

func TestPostgresConversationStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	cfg := utils.PostgresConfig{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
	}

	store, err := db.NewPostgres(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}

	if _, err := store.Pool.Exec(context.Background(), "DELETE FROM conversations"); err != nil {
		t.Fatalf("failed to reset conversations: %v", err)
	}

	exerciseStore(t, store)
}
