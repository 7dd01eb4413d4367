package artifacts

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	root := t.TempDir()
	return NewFSStore(filepath.Join(root, "outputs"), filepath.Join(root, "normalized"))
}

func TestFSStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveArtifact("run123", KindOutline, map[string]any{"thesis": "t"}); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	raw, err := s.ReadArtifact("run123", KindOutline)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("stored artifact is not valid JSON: %v", err)
	}
	if got["thesis"] != "t" {
		t.Errorf("got %v", got)
	}
}

func TestFSStoreNormalizedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveNormalized("art-1", map[string]int{"word_count": 300}); err != nil {
		t.Fatalf("SaveNormalized failed: %v", err)
	}
	if _, err := s.ReadNormalized("art-1"); err != nil {
		t.Fatalf("ReadNormalized failed: %v", err)
	}
}

func TestFSStoreMissingArtifact(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReadArtifact("nope", KindArticle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFSStoreRejectsUnsafeNames(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveArtifact("../escape", KindArticle, nil); err == nil {
		t.Error("path traversal in run id must be rejected")
	}
	if _, err := s.ReadArtifact("run", "kind/../../etc"); err == nil {
		t.Error("path traversal in kind must be rejected")
	}
}

func TestNoopStore(t *testing.T) {
	s := NewNoopStore()
	if err := s.SaveArtifact("r", KindArticle, map[string]int{"a": 1}); err != nil {
		t.Fatalf("noop save failed: %v", err)
	}
	if _, err := s.ReadArtifact("r", KindArticle); !errors.Is(err, ErrNotFound) {
		t.Errorf("noop read = %v, want ErrNotFound", err)
	}
}

func TestPersistSwallowsFailures(t *testing.T) {
	s := NewFSStore("/dev/null/impossible", "/dev/null/impossible")
	// Must not panic or propagate.
	Persist(s, "run", KindArticle, map[string]int{"a": 1})
	PersistNormalized(s, "art", map[string]int{"a": 1})
}
