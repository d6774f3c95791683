package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newHeartbeatTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestHeartbeatWritesInstanceKey(t *testing.T) {
	srv, client := newHeartbeatTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go StartInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix, time.Hour, DefaultHeartbeatTTL)

	deadline := time.After(2 * time.Second)
	for {
		if keys := srv.Keys(); len(keys) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat key was never written")
		case <-time.After(10 * time.Millisecond):
		}
	}

	count, err := CountActiveInstances(ctx, client)
	if err != nil {
		t.Fatalf("CountActiveInstances: %v", err)
	}
	if count != 1 {
		t.Fatalf("active instances = %d, want 1", count)
	}

	instances, err := ListActiveInstances(ctx, client)
	if err != nil {
		t.Fatalf("ListActiveInstances: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("listed %d instances, want 1", len(instances))
	}
	if instances[0].ID != instanceID {
		t.Fatalf("instance id = %q, want %q", instances[0].ID, instanceID)
	}
	if instances[0].Name == "" || instances[0].Region == "" {
		t.Fatalf("instance defaults not filled: %+v", instances[0])
	}
}

func TestHeartbeatKeyExpires(t *testing.T) {
	srv, client := newHeartbeatTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	go StartInstanceHeartbeat(ctx, client, InstanceHeartbeatKeyPrefix, time.Hour, time.Second)

	deadline := time.After(2 * time.Second)
	for len(srv.Keys()) == 0 {
		select {
		case <-deadline:
			t.Fatal("heartbeat key was never written")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	srv.FastForward(2 * time.Second)

	count, err := CountActiveInstances(context.Background(), client)
	if err != nil {
		t.Fatalf("CountActiveInstances: %v", err)
	}
	if count != 0 {
		t.Fatalf("active instances = %d after ttl expiry, want 0", count)
	}
}

func TestListSkipsMalformedPayloads(t *testing.T) {
	srv, client := newHeartbeatTestClient(t)

	srv.Set(InstanceHeartbeatKeyPrefix+"node-a", `{"id":"node-a","name":"alpha","region":"eu"}`)
	srv.Set(InstanceHeartbeatKeyPrefix+"node-b", "not-json")

	instances, err := ListActiveInstances(context.Background(), client)
	if err != nil {
		t.Fatalf("ListActiveInstances: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("listed %d instances, want 2", len(instances))
	}

	byID := make(map[string]ActiveInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}
	if byID["node-a"].Name != "alpha" || byID["node-a"].Region != "eu" {
		t.Fatalf("parsed payload wrong: %+v", byID["node-a"])
	}
	if byID["node-b"].Name != "node-b" || byID["node-b"].Region != "Unknown" {
		t.Fatalf("malformed payload defaults wrong: %+v", byID["node-b"])
	}
}
