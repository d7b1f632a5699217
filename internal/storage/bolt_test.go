package storage_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/officeai/privacy-gateway/internal/model/chat"
	"github.com/officeai/privacy-gateway/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndFindConversation(t *testing.T) {
	store := openStore(t)

	var created chat.Conversation
	err := store.WithTx(func(tx *storage.Tx) error {
		var err error
		created, err = tx.CreateConversation(chat.Conversation{TenantID: "t1", UserID: "u1"})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx err: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated conversation id")
	}

	found, err := store.Conversation(created.ID)
	if err != nil {
		t.Fatalf("Conversation err: %v", err)
	}
	if found.TenantID != "t1" || found.UserID != "u1" {
		t.Fatalf("unexpected conversation: %+v", found)
	}
}

func TestFindConversationAbsent(t *testing.T) {
	store := openStore(t)

	err := store.WithTx(func(tx *storage.Tx) error {
		conv, err := tx.FindConversation("missing")
		if err != nil {
			return err
		}
		if conv != nil {
			t.Fatalf("expected nil for absent conversation, got %+v", conv)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx err: %v", err)
	}

	if _, err := store.Conversation("missing"); !errors.Is(err, storage.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMessagesKeepAppendOrder(t *testing.T) {
	store := openStore(t)

	err := store.WithTx(func(tx *storage.Tx) error {
		if _, err := tx.CreateConversation(chat.Conversation{ID: "42", TenantID: "t1", UserID: "u1"}); err != nil {
			return err
		}
		for i := 0; i < 5; i++ {
			msg := chat.Message{
				ConversationID: "42",
				Role:           chat.RoleUser,
				Content:        fmt.Sprintf("turn %d", i),
			}
			if _, err := tx.AppendMessage(msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx err: %v", err)
	}

	messages, err := store.Messages("42")
	if err != nil {
		t.Fatalf("Messages err: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Content != fmt.Sprintf("turn %d", i) {
			t.Fatalf("order broken at %d: %q", i, msg.Content)
		}
	}
}

func TestFailedTxLeavesNoRows(t *testing.T) {
	store := openStore(t)

	boom := errors.New("boom")
	err := store.WithTx(func(tx *storage.Tx) error {
		if _, err := tx.CreateConversation(chat.Conversation{ID: "rollback", TenantID: "t1", UserID: "u1"}); err != nil {
			return err
		}
		if _, err := tx.AppendMessage(chat.Message{ConversationID: "rollback", Role: chat.RoleUser, Content: "hi"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, storage.ErrPersistenceFailure) {
		t.Fatalf("expected wrapped persistence failure, got %v", err)
	}

	if _, err := store.Conversation("rollback"); !errors.Is(err, storage.ErrConversationNotFound) {
		t.Fatalf("rolled-back conversation still present: %v", err)
	}
}
