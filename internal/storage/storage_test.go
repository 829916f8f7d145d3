package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "goopcall.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestContacts(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.GetContact("alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.UpsertContact(Contact{}); err == nil {
		t.Fatal("expected an error for an empty id")
	}

	if err := db.UpsertContact(Contact{ID: "bob", Name: "Bob", AvatarURL: "/blobs/b.png"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(Contact{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}

	t.Run("upsert keeps avatar", func(t *testing.T) {
		if err := db.UpsertContact(Contact{ID: "bob", Name: "Robert"}); err != nil {
			t.Fatal(err)
		}
		c, err := db.GetContact("bob")
		if err != nil {
			t.Fatal(err)
		}
		if c.Name != "Robert" || c.AvatarURL != "/blobs/b.png" {
			t.Fatalf("unexpected contact: %+v", c)
		}
		if c.UpdatedAt.IsZero() {
			t.Fatal("expected updated_at set")
		}
	})

	t.Run("list ordered by name", func(t *testing.T) {
		list, err := db.ListContacts()
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != "alice" || list[1].ID != "bob" {
			t.Fatalf("unexpected list: %+v", list)
		}
	})

	t.Run("set avatar", func(t *testing.T) {
		if err := db.SetContactAvatar("alice", "/blobs/a.png"); err != nil {
			t.Fatal(err)
		}
		c, _ := db.GetContact("alice")
		if c.AvatarURL != "/blobs/a.png" {
			t.Fatalf("expected avatar updated, got %q", c.AvatarURL)
		}
		if err := db.SetContactAvatar("nobody", "/x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := db.DeleteContact("bob"); err != nil {
			t.Fatal(err)
		}
		if _, err := db.GetContact("bob"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestCallLog(t *testing.T) {
	db := openTestDB(t)
	base := time.UnixMilli(1_700_000_000_000)
	connected := base.Add(3 * time.Second)

	entries := []CallEntry{
		{ID: "c1", PartnerID: "bob", PartnerName: "Bob", Direction: DirectionOutgoing, Type: "audio",
			Outcome: "completed", StartedAt: base, ConnectedAt: &connected, EndedAt: base.Add(time.Minute)},
		{ID: "c2", PartnerID: "carol", Direction: DirectionIncoming, Type: "video",
			Outcome: "missed", Reason: "timeout", StartedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour + 45*time.Second)},
	}
	for _, e := range entries {
		if err := db.AppendCall(e); err != nil {
			t.Fatal(err)
		}
	}

	list, err := db.ListCalls(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(list))
	}
	if list[0].ID != "c2" || list[1].ID != "c1" {
		t.Fatalf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].ConnectedAt != nil {
		t.Fatal("expected missed call without connected_at")
	}
	if list[1].ConnectedAt == nil || !list[1].ConnectedAt.Equal(connected) {
		t.Fatalf("expected connected_at %v, got %v", connected, list[1].ConnectedAt)
	}
	if !list[1].StartedAt.Equal(base) || list[0].Reason != "timeout" {
		t.Fatalf("unexpected round trip: %+v", list)
	}

	limited, err := db.ListCalls(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "c2" {
		t.Fatalf("expected only the newest call, got %+v", limited)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if v, err := db.GetMeta("schema"); err != nil || v != "" {
		t.Fatalf("expected empty meta, got %q, %v", v, err)
	}
	if err := db.SetMeta("schema", "1"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.GetMeta("schema"); v != "1" {
		t.Fatalf("expected 1, got %q", v)
	}
}
