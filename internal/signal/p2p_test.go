package signal

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestAnnounceIntervalBelowTTL(t *testing.T) {
	for _, ttl := range []time.Duration{300 * time.Millisecond, time.Minute} {
		if every := announceInterval(ttl); every <= 0 || every >= ttl {
			t.Fatalf("expected interval inside (0, %v), got %v", ttl, every)
		}
	}
}

func TestP2PPresenceOutlivesTTL(t *testing.T) {
	ctx := context.Background()
	ttl := 300 * time.Millisecond
	hub, err := NewP2PHub(ctx, P2POptions{PresenceTTL: ttl})
	if err != nil {
		t.Fatalf("new p2p hub: %v", err)
	}
	defer hub.Close()

	a, err := hub.Open(ctx, "call:a:b")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := hub.Open(ctx, "call:a:b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Track(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		ids, _ := b.Presence(ctx)
		if slices.Contains(ids, "a") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the first announcement")
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(3 * ttl)
	ids, err := b.Presence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ids) != "[a]" {
		t.Fatalf("expected [a] kept alive by re-announcement, got %v", ids)
	}

	a.Close()
	time.Sleep(2 * ttl)
	if ids, _ := b.Presence(ctx); len(ids) != 0 {
		t.Fatalf("expected presence to expire after close, got %v", ids)
	}
}
