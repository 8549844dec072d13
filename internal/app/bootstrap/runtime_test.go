package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/agent-playground/internal/config"
	"github.com/wolfman30/agent-playground/internal/realtime"
	"github.com/wolfman30/agent-playground/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	logger := logging.New("error")
	if c := BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true); c != nil {
		t.Fatalf("expected nil client without address")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()

	stopped, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	addr := stopped.Addr()
	stopped.Close()
	if c := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logger, true); c != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := ConnectPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestBuildStepLogRequiresDatabase(t *testing.T) {
	if l := BuildStepLog(nil, &appconfig.Config{ReconcileStepLogOn: true}, nil); l != nil {
		t.Fatalf("expected nil step log without database")
	}
}

func TestBuildContentStoreDefaultsToGateway(t *testing.T) {
	if s := BuildContentStore(nil, &appconfig.Config{ContentBackend: "postgres"}); s != nil {
		t.Fatalf("expected nil store without pool")
	}
}

func TestBuildChangeFeed(t *testing.T) {
	logger := logging.New("error")

	feed, err := BuildChangeFeed(&appconfig.Config{RealtimeBackend: "supabase"}, logger)
	if err != nil || feed != nil {
		t.Fatalf("expected no feed without supabase url, got %v %v", feed, err)
	}

	feed, err = BuildChangeFeed(&appconfig.Config{RealtimeBackend: "supabase", SupabaseURL: "https://xyz.supabase.co", SupabaseAnonKey: "anon"}, logger)
	if err != nil {
		t.Fatalf("supabase feed: %v", err)
	}
	if _, ok := feed.(*realtime.SupabaseFeed); !ok {
		t.Fatalf("expected supabase feed, got %T", feed)
	}

	feed, err = BuildChangeFeed(&appconfig.Config{RealtimeBackend: "postgres", DatabaseURL: "postgres://localhost/db"}, logger)
	if err != nil {
		t.Fatalf("postgres feed: %v", err)
	}
	if _, ok := feed.(*realtime.PostgresFeed); !ok {
		t.Fatalf("expected postgres feed, got %T", feed)
	}

	if _, err := BuildChangeFeed(&appconfig.Config{RealtimeBackend: "postgres"}, logger); err == nil {
		t.Fatalf("expected error without database url")
	}
	if _, err := BuildChangeFeed(&appconfig.Config{RealtimeBackend: "kafka"}, logger); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
