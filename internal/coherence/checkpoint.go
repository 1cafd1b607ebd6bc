// Package coherence persists session coherence checkpoints and the
// organization weights as human-readable JSON files in one directory.
package coherence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

const (
	checkpointPrefix = "checkpoint_"
	checkpointSuffix = ".json"

	// OrganizationConfigFile holds the persisted organization weights.
	OrganizationConfigFile = "organization_config.json"

	// ShortTermFile holds the short-term snapshot carried between processes.
	ShortTermFile = "short_term.json"
)

var (
	// ErrCheckpointNotFound is returned when no checkpoint exists for a session.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrInvalidSessionID is returned for session ids that cannot name a file.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Checksum hashes the sorted ids joined by "|". Order of ids does not matter.
func Checksum(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

// CheckpointStore reads and writes files under a single coherence directory.
type CheckpointStore struct {
	dir    string
	logger *slog.Logger
}

// NewCheckpointStore creates dir if needed.
func NewCheckpointStore(dir string, logger *slog.Logger) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating coherence dir %s: %w", dir, err)
	}
	return &CheckpointStore{dir: dir, logger: logger}, nil
}

// Dir returns the coherence directory.
func (c *CheckpointStore) Dir() string { return c.dir }

// Path returns the checkpoint file path for sessionID.
func (c *CheckpointStore) Path(sessionID string) string {
	return filepath.Join(c.dir, checkpointPrefix+sessionID+checkpointSuffix)
}

func validSessionID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Save writes state to checkpoint_{SessionID}.json.
func (c *CheckpointStore) Save(state models.MemoryCoherenceState) error {
	if !validSessionID(state.SessionID) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, state.SessionID)
	}
	if err := c.writeJSON(c.Path(state.SessionID), state); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", state.SessionID, err)
	}
	c.logger.Debug("coherence: checkpoint saved", "session_id", state.SessionID)
	return nil
}

// Load reads the checkpoint for sessionID.
func (c *CheckpointStore) Load(sessionID string) (models.MemoryCoherenceState, error) {
	var state models.MemoryCoherenceState
	if !validSessionID(sessionID) {
		return state, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	data, err := os.ReadFile(c.Path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, fmt.Errorf("%w: %s", ErrCheckpointNotFound, sessionID)
		}
		return state, fmt.Errorf("reading checkpoint %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("decoding checkpoint %s: %w", sessionID, err)
	}
	return state, nil
}

// List returns the session ids that have a checkpoint, sorted.
func (c *CheckpointStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointSuffix))
	}
	slices.Sort(ids)
	return ids, nil
}

// SaveOrganizationConfig persists the organization weights.
func (c *CheckpointStore) SaveOrganizationConfig(cfg models.OrganizationConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("organization config: %w", err)
	}
	if err := c.writeJSON(filepath.Join(c.dir, OrganizationConfigFile), cfg); err != nil {
		return fmt.Errorf("saving organization config: %w", err)
	}
	return nil
}

// LoadOrganizationConfig reads the persisted weights. found is false, with
// defaults returned, when the file does not exist.
func (c *CheckpointStore) LoadOrganizationConfig() (cfg models.OrganizationConfig, found bool, err error) {
	data, err := os.ReadFile(filepath.Join(c.dir, OrganizationConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.DefaultOrganizationConfig(), false, nil
		}
		return cfg, false, fmt.Errorf("reading organization config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, false, fmt.Errorf("decoding organization config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, fmt.Errorf("organization config: %w", err)
	}
	return cfg, true, nil
}

// SaveShortTerm replaces the short-term snapshot with items.
func (c *CheckpointStore) SaveShortTerm(items []models.MemoryItem) error {
	if items == nil {
		items = []models.MemoryItem{}
	}
	if err := c.writeJSON(filepath.Join(c.dir, ShortTermFile), items); err != nil {
		return fmt.Errorf("saving short-term snapshot: %w", err)
	}
	return nil
}

// LoadShortTerm reads the short-term snapshot. A missing file yields no items.
func (c *CheckpointStore) LoadShortTerm() ([]models.MemoryItem, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, ShortTermFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading short-term snapshot: %w", err)
	}
	var items []models.MemoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decoding short-term snapshot: %w", err)
	}
	return items, nil
}

// writeJSON writes v as indented JSON through a temp file and rename so that
// readers never see a partial file.
func (c *CheckpointStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
