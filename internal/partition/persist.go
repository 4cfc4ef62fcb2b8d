package partition

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vectorcore/engine/internal/types"
)

// manifest is partitions.json: the list of known partitions and which
// one is active, so a fresh Manager can rediscover shards without
// loading their contents.
type manifest struct {
	Version int      `json:"version"`
	Order   []string `json:"order"`
	Active  string   `json:"active"`
}

const manifestSchemaVersion = 1

func (m *Manager) saveManifest() error {
	if err := os.MkdirAll(m.cfg.BaseDir, 0o755); err != nil {
		return types.WrapError("saveManifest", err)
	}
	m.mu.RLock()
	man := manifest{Version: manifestSchemaVersion, Order: append([]string(nil), m.order...), Active: m.active}
	m.mu.RUnlock()

	data, err := json.Marshal(man)
	if err != nil {
		return types.WrapError("saveManifest", err)
	}
	path := filepath.Join(m.cfg.BaseDir, "partitions.json")
	tmp, err := os.CreateTemp(m.cfg.BaseDir, ".tmp-*")
	if err != nil {
		return types.WrapError("saveManifest", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.WrapError("saveManifest", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.WrapError("saveManifest", err)
	}
	return os.Rename(tmpPath, path)
}

// Open loads a Manager from cfg.BaseDir's partitions.json manifest,
// registering every known partition id without eagerly loading its
// contents (lazy residency via GetPartition/LRU, spec §4.4).
func Open(cfg Config) (*Manager, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.BaseDir, "partitions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return m, nil // fresh manager, no manifest yet
	}

	var man manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, types.WrapError("Open", err)
	}
	if man.Version != manifestSchemaVersion {
		return nil, types.WrapError("Open", types.ErrCorruption)
	}

	m.mu.Lock()
	m.order = man.Order
	m.active = man.Active
	m.mu.Unlock()
	return m, nil
}
