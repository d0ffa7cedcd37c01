//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, testcontainers.Container) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(context.Background())
	})

	return client, redisContainer
}

func TestIntegration_RedisStoreContract(t *testing.T) {
	client, _ := setupRedisContainer(t)
	storeContract(t, NewRedisStore(client))
}

func TestIntegration_RedisStoreTTL(t *testing.T) {
	client, _ := setupRedisContainer(t)
	store := NewRedisStore(client, WithTTL(time.Second))
	ctx := context.Background()

	if err := store.Set(ctx, "api_cache:/ttl", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	_, found, err := store.Get(ctx, "api_cache:/ttl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected entry to expire")
	}
}

func TestIntegration_RedisStoreUnavailable(t *testing.T) {
	client, container := setupRedisContainer(t)
	store := NewRedisStore(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := container.Stop(ctx, nil); err != nil {
		t.Fatalf("Failed to stop container: %v", err)
	}

	_, _, err := store.Get(ctx, "api_cache:/p")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Get error = %v, want ErrStoreUnavailable", err)
	}

	err = store.Set(ctx, "api_cache:/p", "v")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Set error = %v, want ErrStoreUnavailable", err)
	}

	if err := store.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping error = %v, want ErrStoreUnavailable", err)
	}
}
