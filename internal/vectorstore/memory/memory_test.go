package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/svat/models"
)

func unit(text, fp string, page int) models.Unit {
	return models.Unit{Content: text, Metadata: map[string]any{models.MetaFingerprint: fp, models.MetaPage: page}}
}

func TestInsertIfAbsentSkipsKnownFingerprint(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	n, err := s.InsertIfAbsent(ctx, "reports", "fp1", []models.Unit{unit("sql injection", "fp1", 0)}, [][]float32{{1, 0}})
	if err != nil || n != 1 {
		t.Fatalf("first insert: n=%d err=%v", n, err)
	}
	n, err = s.InsertIfAbsent(ctx, "reports", "fp1", []models.Unit{unit("sql injection", "fp1", 0)}, [][]float32{{1, 0}})
	if err != nil || n != 0 {
		t.Fatalf("second insert: n=%d err=%v", n, err)
	}
	// other collections are independent
	n, _ = s.InsertIfAbsent(ctx, "other", "fp1", []models.Unit{unit("sql injection", "fp1", 0)}, [][]float32{{1, 0}})
	if n != 1 {
		t.Fatalf("expected insert into separate collection")
	}
	if c, _ := s.Count(ctx, "reports"); c != 1 {
		t.Fatalf("expected 1 unit, got %d", c)
	}
	fps, _ := s.Fingerprints(ctx, "reports")
	if len(fps) != 1 || fps[0] != "fp1" {
		t.Fatalf("unexpected fingerprints %v", fps)
	}
}

func TestConcurrentInsertStoresOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.InsertIfAbsent(ctx, "reports", "fp", []models.Unit{unit("xss", "fp", 0)}, [][]float32{{0, 1}})
		}()
	}
	wg.Wait()
	if c, _ := s.Count(ctx, "reports"); c != 1 {
		t.Fatalf("expected a single stored unit, got %d", c)
	}
}

func TestSearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	units := []models.Unit{unit("a", "fp", 0), unit("b", "fp", 1), unit("c", "fp", 2)}
	vectors := [][]float32{{1, 0}, {0.7, 0.7}, {0, 1}}
	if _, err := s.InsertIfAbsent(ctx, "col", "fp", units, vectors); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := s.Search(ctx, "col", []float32{0, 2}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 || res[0].Unit.Content != "c" || res[1].Unit.Content != "b" {
		t.Fatalf("unexpected order: %+v", res)
	}
}

func TestPingReportsDown(t *testing.T) {
	s := NewStorage()
	s.Down = true
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}
