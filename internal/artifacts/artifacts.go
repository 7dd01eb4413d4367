// Package artifacts persists per-run pipeline outputs as JSON files. The
// filesystem store writes one directory per run; the no-op store backs
// serverless hosts with no writable disk.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

// Artifact kinds, one file per kind under the run directory.
const (
	KindRetrievalBatch    = "retrieval_batch"
	KindRetrievalClusters = "retrieval_clusters"
	KindOutline           = "outline"
	KindTargetedResearch  = "targeted_research"
	KindSourceCatalog     = "source_catalog"
	KindArticle           = "article"
	KindImagePrompt       = "image_prompt"
)

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("artifacts: not found")

var safeNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidName reports whether a run or artifact identifier is safe to use as a
// path component.
func ValidName(name string) bool {
	return safeNameRe.MatchString(name)
}

// Store persists and serves run artifacts and normalized articles.
type Store interface {
	SaveArtifact(runID, kind string, v any) error
	ReadArtifact(runID, kind string) (json.RawMessage, error)
	SaveNormalized(articleID string, v any) error
	ReadNormalized(articleID string) (json.RawMessage, error)
}

// FSStore writes artifacts under outputsDir/<runId>/<kind>.json and
// normalized articles under normalizedDir/<articleId>.json.
type FSStore struct {
	outputsDir    string
	normalizedDir string
}

// NewFSStore builds a filesystem store rooted at the two directories.
func NewFSStore(outputsDir, normalizedDir string) *FSStore {
	return &FSStore{outputsDir: outputsDir, normalizedDir: normalizedDir}
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("artifacts: invalid name %q", name)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return nil
}

func readJSON(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return json.RawMessage(data), nil
}

// SaveArtifact writes one artifact for a run.
func (s *FSStore) SaveArtifact(runID, kind string, v any) error {
	if err := checkName(runID); err != nil {
		return err
	}
	if err := checkName(kind); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.outputsDir, runID, kind+".json"), v)
}

// ReadArtifact returns the raw JSON of one artifact.
func (s *FSStore) ReadArtifact(runID, kind string) (json.RawMessage, error) {
	if err := checkName(runID); err != nil {
		return nil, err
	}
	if err := checkName(kind); err != nil {
		return nil, err
	}
	return readJSON(filepath.Join(s.outputsDir, runID, kind+".json"))
}

// SaveNormalized writes one normalized article to the side store.
func (s *FSStore) SaveNormalized(articleID string, v any) error {
	if err := checkName(articleID); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.normalizedDir, articleID+".json"), v)
}

// ReadNormalized returns one normalized article's raw JSON.
func (s *FSStore) ReadNormalized(articleID string) (json.RawMessage, error) {
	if err := checkName(articleID); err != nil {
		return nil, err
	}
	return readJSON(filepath.Join(s.normalizedDir, articleID+".json"))
}

// NoopStore discards writes and reports every read as missing.
type NoopStore struct{}

// NewNoopStore builds the no-op store.
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) SaveArtifact(string, string, any) error { return nil }
func (NoopStore) ReadArtifact(string, string) (json.RawMessage, error) {
	return nil, ErrNotFound
}
func (NoopStore) SaveNormalized(string, any) error { return nil }
func (NoopStore) ReadNormalized(string) (json.RawMessage, error) {
	return nil, ErrNotFound
}

// Persist saves an artifact best-effort: failures are logged and swallowed
// so persistence can never turn a successful stage into a failed run.
func Persist(store Store, runID, kind string, v any) {
	if err := store.SaveArtifact(runID, kind, v); err != nil {
		logger.Warn("failed to persist artifact", "run_id", runID, "kind", kind, "error", err.Error())
	}
}

// PersistNormalized saves a normalized article best-effort.
func PersistNormalized(store Store, articleID string, v any) {
	if err := store.SaveNormalized(articleID, v); err != nil {
		logger.Warn("failed to persist normalized article", "article_id", articleID, "error", err.Error())
	}
}
