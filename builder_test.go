package authcore

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuildRequiresRedisAndUserStore(t *testing.T) {
	_, err := NewBuilder().
		WithUserStore(newMockUserStore()).
		WithSigningKey(testSigningKey).
		Build()
	if err == nil || !strings.Contains(err.Error(), "redis") {
		t.Fatalf("expected redis requirement error, got %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = NewBuilder().
		WithRedis(rdb).
		WithSigningKey(testSigningKey).
		Build()
	if err == nil || !strings.Contains(err.Error(), "user store") {
		t.Fatalf("expected user store requirement error, got %v", err)
	}
}

func TestBuildRejectsShortSigningKey(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = NewBuilder().
		WithConfig(testEngineConfig()).
		WithRedis(rdb).
		WithUserStore(newMockUserStore()).
		WithSigningKey([]byte("too-short")).
		Build()
	if err == nil {
		t.Fatal("expected error for short hs256 key")
	}
}

func TestBuildProducesWorkingEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	if engine.Metrics() == nil {
		t.Fatal("expected metrics registry")
	}
	if !engine.Metrics().Enabled() {
		t.Fatal("metrics should be enabled by default config")
	}
	if engine.AuditDropped() != 0 {
		t.Fatal("fresh engine reports dropped audit events")
	}
}
