package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() {
		client.Close()
	})

	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("failed to enable keyspace notifications: %v", err)
	}

	return client
}

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return string(data)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for value")
		return ""
	}
}

func TestKeyspacePayloads(t *testing.T) {
	for _, p := range []string{"set", "setex", "append", "incrby"} {
		if !isWrite(p) {
			t.Errorf("expected %s to be a write", p)
		}
	}
	for _, p := range []string{"del", "expired", "evicted"} {
		if !isRemoval(p) || isWrite(p) {
			t.Errorf("expected %s to be a removal", p)
		}
	}
	if isWrite("expire") || isRemoval("expire") {
		t.Error("expected expire to be ignored")
	}
}

func TestWatcher_EmitsInitialAndChanges(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, "config:test", `{"v": 1}`, 0).Err(); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	ch, err := New(client, "config:test").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); got != `{"v": 1}` {
		t.Errorf("expected initial value, got %q", got)
	}

	if err := client.Set(ctx, "config:test", `{"v": 2}`, 0).Err(); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if got := receive(t, ch); got != `{"v": 2}` {
		t.Errorf("expected updated value, got %q", got)
	}
}

func TestWatcher_PrefixEmitsKeyedList(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Set(ctx, "todo:a", "1", 0).Err(); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	ch, err := NewPrefix(client, "todo:", WithTrimPrefix()).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); got != `[{"key":"a","val":1}]` {
		t.Errorf("unexpected initial list %s", got)
	}

	if err := client.Set(ctx, "todo:b", "ready", 0).Err(); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if got := receive(t, ch); got != `[{"key":"a","val":1},{"key":"b","val":"ready"}]` {
		t.Errorf("unexpected list after set %s", got)
	}

	if err := client.Del(ctx, "todo:a").Err(); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if got := receive(t, ch); got != `[{"key":"b","val":"ready"}]` {
		t.Errorf("unexpected list after delete %s", got)
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	if err := client.Set(ctx, "config:test", "value", 0).Err(); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	ch, err := New(client, "config:test").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	receive(t, ch)

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}
