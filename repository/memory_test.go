package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type widget struct {
	ID    uuid.UUID
	Count int
}

func widgetKey(w widget) uuid.UUID { return w.ID }

func TestMemorySaveAndFind(t *testing.T) {
	repo := NewMemory(widgetKey)
	ctx := context.Background()

	w := widget{ID: uuid.New(), Count: 1}
	if err := repo.Save(ctx, w); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("expected count 1, got %d", got.Count)
	}

	got, err = repo.FindByExternalID(ctx, w.ID)
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got.Count != 1 {
		t.Fatalf("expected count 1 via FindByExternalID, got %d", got.Count)
	}
}

func TestMemoryNotFound(t *testing.T) {
	repo := NewMemory(widgetKey)
	_, err := repo.FindByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryTransactIsAtomic(t *testing.T) {
	repo := NewMemory(widgetKey)
	id := uuid.New()
	if err := repo.Save(context.Background(), widget{ID: id, Count: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err := repo.Transact(context.Background(), func(tx Tx[widget]) error {
		w, ok := tx.FindByID(id)
		if !ok {
			t.Fatalf("expected to find widget inside transaction")
		}
		w.Count++
		tx.Save(w)
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	got, err := repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID after transact: %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("expected count 2 after transact, got %d", got.Count)
	}
}
