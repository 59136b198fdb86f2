package inapp

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afikmenashe/smart-alerts/internal/alert"
)

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(nil, Config{})
	if h.cfg != DefaultConfig() {
		t.Errorf("NewHandler() cfg = %+v, want defaults", h.cfg)
	}
	if h.Available(&alert.DeliveryPreference{UserID: "user-1"}) {
		t.Error("Available() = true without a Redis client")
	}
	if Key("user-1") != "inbox:user-1" {
		t.Errorf("Key() = %q", Key("user-1"))
	}
}

func TestHandler_SendAndList_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}

	userID := "inapp-test-user"
	defer client.Del(ctx, Key(userID))

	h := NewHandler(client, Config{MaxEntries: 2, TTL: time.Minute})
	prefs := &alert.DeliveryPreference{UserID: userID}
	for _, id := range []string{"ca-1", "ca-2", "ca-3"} {
		ca := &alert.ConsolidatedAlert{ID: id, UserID: userID, Title: id, Priority: alert.PriorityLow}
		if err := h.Send(ctx, ca, prefs); err != nil {
			t.Fatalf("Send(%s) error = %v", id, err)
		}
	}

	entries, err := h.List(ctx, userID, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "ca-3" || entries[1].ID != "ca-2" {
		t.Errorf("List() = %+v, want newest two", entries)
	}

	ttl, err := client.TTL(ctx, Key(userID)).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL() = %v, %v", ttl, err)
	}
}
