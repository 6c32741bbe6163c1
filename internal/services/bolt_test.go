package services_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
	"github.com/MegaGrindStone/worldcup-chat/internal/services"
	bolt "go.etcd.io/bbolt"
)

func newTestBoltDB(t *testing.T) (services.BoltDB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	db, err := services.NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestBoltDBMessagesRoundTrip(t *testing.T) {
	db, _ := newTestBoltDB(t)
	ctx := context.Background()

	// More than nine messages, so numeric and lexical key order would differ.
	var added []models.Message
	for i := range 12 {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg, err := db.AddMessage(ctx, role, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
		if msg.ID == 0 {
			t.Fatal("AddMessage() returned zero ID")
		}
		if msg.Timestamp.IsZero() {
			t.Fatal("AddMessage() returned zero timestamp")
		}
		added = append(added, msg)
	}

	got, err := db.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != len(added) {
		t.Fatalf("Messages() returned %d messages, want %d", len(got), len(added))
	}
	for i := range added {
		if got[i].ID != added[i].ID || got[i].Role != added[i].Role || got[i].Content != added[i].Content {
			t.Errorf("Messages()[%d] = %+v, want %+v", i, got[i], added[i])
		}
		if !got[i].Timestamp.Equal(added[i].Timestamp) {
			t.Errorf("Messages()[%d].Timestamp = %v, want %v", i, got[i].Timestamp, added[i].Timestamp)
		}
		if i > 0 && got[i].ID <= got[i-1].ID {
			t.Errorf("Messages() IDs not increasing: %d after %d", got[i].ID, got[i-1].ID)
		}
	}
}

func TestBoltDBMessagesEmpty(t *testing.T) {
	db, _ := newTestBoltDB(t)

	got, err := db.Messages(context.Background())
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Messages() = %v, want empty slice", got)
	}
}

func TestBoltDBAddMessageInvalidRole(t *testing.T) {
	db, _ := newTestBoltDB(t)
	ctx := context.Background()

	if _, err := db.AddMessage(ctx, models.Role("tool"), "x"); err == nil {
		t.Fatal("AddMessage() with unknown role should return error")
	}

	got, err := db.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Messages() returned %d messages, want 0", len(got))
	}
}

func TestBoltDBAddMessageInvalidUTF8(t *testing.T) {
	db, _ := newTestBoltDB(t)
	ctx := context.Background()

	msg, err := db.AddMessage(ctx, models.RoleUser, "goal\xff!")
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if msg.Content != "goal\uFFFD!" {
		t.Errorf("AddMessage() content = %q, want %q", msg.Content, "goal\uFFFD!")
	}

	got, err := db.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != msg.Content {
		t.Errorf("Messages() = %+v, want stored content %q", got, msg.Content)
	}
}

func TestBoltDBMetadata(t *testing.T) {
	db, _ := newTestBoltDB(t)
	ctx := context.Background()

	v, err := db.Metadata(ctx, "missing")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if v != nil {
		t.Errorf("Metadata() = %s, want nil", v)
	}

	if err := db.SetMetadata(ctx, "session_id", "abc"); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}
	if err := db.SetMetadata(ctx, "session_id", "def"); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}

	v, err = db.Metadata(ctx, "session_id")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if string(v) != `"def"` {
		t.Errorf("Metadata() = %s, want %q", v, `"def"`)
	}
}

func TestBoltDBClear(t *testing.T) {
	db, _ := newTestBoltDB(t)
	ctx := context.Background()

	// Clearing an empty store is fine, and clearing twice yields the same result.
	for range 2 {
		if err := db.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
	}

	last, err := db.AddMessage(ctx, models.RoleUser, "hello")
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if err := db.SetMetadata(ctx, "session_id", "abc"); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}

	for range 2 {
		if err := db.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		msgs, err := db.Messages(ctx)
		if err != nil {
			t.Fatalf("Messages() error = %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("Messages() after Clear() returned %d messages, want 0", len(msgs))
		}
		v, err := db.Metadata(ctx, "session_id")
		if err != nil {
			t.Fatalf("Metadata() error = %v", err)
		}
		if v != nil {
			t.Errorf("Metadata() after Clear() = %s, want nil", v)
		}
	}

	next, err := db.AddMessage(ctx, models.RoleUser, "again")
	if err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if next.ID <= last.ID {
		t.Errorf("AddMessage() after Clear() ID = %d, want greater than %d", next.ID, last.ID)
	}
}

func TestBoltDBReopen(t *testing.T) {
	db, path := newTestBoltDB(t)
	ctx := context.Background()

	contents := []string{"첫 질문", "첫 답변", "둘째 질문"}
	roles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleUser}
	for i := range contents {
		if _, err := db.AddMessage(ctx, roles[i], contents[i]); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := services.NewBoltDB(path)
	if err != nil {
		t.Fatalf("NewBoltDB() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Messages(ctx)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != len(contents) {
		t.Fatalf("Messages() returned %d messages, want %d", len(got), len(contents))
	}
	for i := range contents {
		if got[i].Role != roles[i] || got[i].Content != contents[i] {
			t.Errorf("Messages()[%d] = %+v, want role %s content %q", i, got[i], roles[i], contents[i])
		}
	}
}

func TestNewBoltDBNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	raw, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = raw.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucket([]byte("schema"))
		if err != nil {
			return err
		}
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, 2)
		return b.Put([]byte("version"), v)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := raw.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := services.NewBoltDB(path); err == nil {
		t.Fatal("NewBoltDB() with newer schema version should return error")
	}
}
