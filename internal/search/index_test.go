package search

import (
	"errors"
	"testing"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/models"
)

func seeded(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	err = idx.Add("user-1",
		models.Vulnerability{Name: "SQL Injection", CWEID: "CWE-89", Description: "Login form concatenates input", Collection: "pentest"},
		models.Vulnerability{Name: "Log4Shell", CVEID: "CVE-2021-44228", Description: "JNDI lookup in logging", Collection: "pentest"},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add("user-2", models.Vulnerability{Name: "SQL Injection", Description: "other tenant", Collection: "audit"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return idx
}

func TestSearchScopesByOwner(t *testing.T) {
	idx := seeded(t)
	hits, err := idx.Search("user-1", "injection", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Vulnerability.CWEID != "CWE-89" || hits[0].Vulnerability.Collection != "pentest" {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
}

func TestSearchMatchesDescription(t *testing.T) {
	idx := seeded(t)
	hits, err := idx.Search("user-1", "jndi", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Vulnerability.Name != "Log4Shell" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestReAddReplaces(t *testing.T) {
	idx := seeded(t)
	if err := idx.Add("user-1", models.Vulnerability{Name: "Log4Shell", CVEID: "CVE-2021-44228", Description: "updated", Collection: "pentest"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, err := idx.Count()
	if err != nil || n != 3 {
		t.Fatalf("expected 3 docs, got %d (%v)", n, err)
	}
}

func TestEmptyQuery(t *testing.T) {
	idx := seeded(t)
	if _, err := idx.Search("user-1", "  ", 5); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
