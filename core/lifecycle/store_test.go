package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/model"
)

func TestStore_CreateRejectsDuplicates(t *testing.T) {
	s := NewStore()
	if err := s.Create(model.Posting{ID: "p1", Status: model.StatusAvailable}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(model.Posting{ID: "p1"})
	if !faults.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	_ = s.Create(model.Posting{ID: "p1", Status: model.StatusAvailable, History: []model.HistorySnapshot{{Note: "created"}}})
	p, err := s.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Status = model.StatusCancelled
	p.History[0].Note = "mutated"

	again, _ := s.Get("p1")
	if again.Status != model.StatusAvailable || again.History[0].Note != "created" {
		t.Errorf("mutation of a returned copy leaked into the store")
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := NewStore()
	_ = s.Create(model.Posting{ID: "p1", Status: model.StatusAvailable})
	boom := errors.New("boom")
	_, err := s.Update("p1", func(p *model.Posting) error {
		p.Status = model.StatusClaimed
		p.ClaimedBy = "r1"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	p, _ := s.Get("p1")
	if p.Status != model.StatusAvailable || p.ClaimedBy != "" {
		t.Errorf("failed update left a partial mutation: %+v", p)
	}
}

func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := NewStore()
	_ = s.Create(model.Posting{ID: "p1", Status: model.StatusAvailable})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("p1", func(p *model.Posting) error {
				p.Food.Quantity++
				return nil
			})
		}()
	}
	wg.Wait()
	p, _ := s.Get("p1")
	if p.Food.Quantity != 50 {
		t.Errorf("lost updates: quantity = %d, want 50", p.Food.Quantity)
	}
}

func TestStore_NonTerminal(t *testing.T) {
	s := NewStore()
	now := time.Now()
	_ = s.Create(model.Posting{ID: "open", Status: model.StatusAvailable, CreatedAt: now})
	_ = s.Create(model.Posting{ID: "done", Status: model.StatusDelivered, CreatedAt: now})
	_ = s.Create(model.Posting{ID: "gone", Status: model.StatusExpired, CreatedAt: now})

	open := s.NonTerminal()
	if len(open) != 1 || open[0].ID != "open" {
		t.Errorf("expected only the open posting, got %+v", open)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	if !faults.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
