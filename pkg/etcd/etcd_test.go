package etcd

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/strata"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

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

func put(t *testing.T, client *clientv3.Client, key, value string) {
	t.Helper()
	if _, err := client.Put(context.Background(), key, value); err != nil {
		t.Fatalf("failed to put %s: %v", key, err)
	}
}

func TestWatcher_EmitsInitialAndChanges(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	put(t, client, "/config/test", `{"v": 1}`)

	ch, err := New(client, "/config/test").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); got != `{"v": 1}` {
		t.Errorf("expected initial value, got %q", got)
	}

	put(t, client, "/config/test", `{"v": 2}`)
	if got := receive(t, ch); got != `{"v": 2}` {
		t.Errorf("expected updated value, got %q", got)
	}
}

func TestWatcher_MissingKeyWaitsForCreate(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := New(client, "/missing/key").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	select {
	case <-ch:
		t.Error("did not expect a value for a missing key")
	case <-time.After(500 * time.Millisecond):
	}

	put(t, client, "/missing/key", "created")
	if got := receive(t, ch); got != "created" {
		t.Errorf("expected created, got %q", got)
	}
}

func TestWatcher_PrefixEmitsKeyedList(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	put(t, client, "/todos/a", `{"title": "write"}`)

	ch, err := NewPrefix(client, "/todos/", WithTrimPrefix()).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); got != `[{"key":"a","val":{"title":"write"}}]` {
		t.Errorf("unexpected initial list %s", got)
	}

	put(t, client, "/todos/b", "plain")
	if got := receive(t, ch); got != `[{"key":"a","val":{"title":"write"}},{"key":"b","val":"plain"}]` {
		t.Errorf("unexpected list after put %s", got)
	}

	if _, err := client.Delete(ctx, "/todos/a"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if got := receive(t, ch); got != `[{"key":"b","val":"plain"}]` {
		t.Errorf("unexpected list after delete %s", got)
	}
}

func TestWatcher_ClosesOnContextCancel(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := NewPrefix(client, "/empty/").Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if got := receive(t, ch); got != "[]" {
		t.Errorf("expected the empty list, got %q", got)
	}

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

func TestWatcher_HydratesCollection(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	put(t, client, "/members/a", "1")
	put(t, client, "/members/b", "2")

	coll, err := strata.MakeCollection(strata.CollectionSpec{
		Item: func(strata.Sources) strata.Sinks { return strata.Sinks{} },
	})
	if err != nil {
		t.Fatalf("MakeCollection() error = %v", err)
	}

	var rt *strata.Runtime
	rt = strata.New(func(src strata.Sources) strata.Sinks {
		members, _ := strata.SinkOf[strata.Reducer](coll(src), "state")
		watcher := NewPrefix(client, "/members/", WithTrimPrefix())
		return strata.Sinks{"state": strata.Merge(members, strata.Hydrate[any](ctx, rt.Loop(), watcher, nil))}
	})
	if _, err := rt.Start(ctx, strata.Sources{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rt.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		state, _ := rt.Current()
		if list, ok := state.([]any); ok && len(list) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected two hydrated members, got %v", state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
