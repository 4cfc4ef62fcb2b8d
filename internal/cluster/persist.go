package cluster

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vectorcore/engine/internal/types"
	"github.com/vectorcore/engine/internal/vstore"
)

// clusterFile is cluster.json's on-disk schema: centroids plus the
// member id set per cluster, keyed by cluster id.
type clusterFile struct {
	Version  int                 `json:"version"`
	Clusters []clusterFileEntry  `json:"clusters"`
	NextID   int                 `json:"nextClusterId"`
}

type clusterFileEntry struct {
	ID       int       `json:"id"`
	Centroid []float32 `json:"centroid"`
	Members  []string  `json:"members"`
}

const clusterSchemaVersion = 1

// Save writes the VectorStore's vec.bin/meta.json via the embedded
// store, then writes cluster.json(.gz) describing the current
// centroids and membership.
func (s *Store) Save(dir string, compress bool) error {
	if err := s.Store.Save(dir, compress); err != nil {
		return err
	}

	s.mu.RLock()
	cf := clusterFile{Version: clusterSchemaVersion, NextID: s.nextClusterID}
	for id, c := range s.clusters {
		entry := clusterFileEntry{ID: id, Centroid: c.Centroid}
		for key := range c.Members {
			entry.Members = append(entry.Members, key)
		}
		cf.Clusters = append(cf.Clusters, entry)
	}
	s.mu.RUnlock()

	data, err := json.Marshal(cf)
	if err != nil {
		return types.WrapError("save", err)
	}

	name := "cluster.json"
	if compress {
		name += ".gz"
	}
	return writeAtomicCluster(filepath.Join(dir, name), data, compress)
}

func writeAtomicCluster(path string, data []byte, compress bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var w io.Writer = tmp
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(tmp)
		w = gz
	}
	if _, err := w.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Load reads the VectorStore, then tries cluster.json(.gz). When that
// file is missing or fails to parse, clusters are rebuilt from scratch
// by streaming every loaded vector through the same incremental
// assignment Add uses (spec §4.2's documented fallback), rather than
// failing the whole load.
func Load(dir string, cfg Config) (*Store, error) {
	vs, err := vstore.Load(dir, cfg.VStore)
	if err != nil {
		return nil, err
	}

	s := New(cfg)
	s.Store = vs

	data, compressed, err := readEitherCluster(filepath.Join(dir, "cluster.json"))
	if err == nil {
		if compressed {
			data, err = gunzipCluster(data)
		}
		var cf clusterFile
		if err == nil && cf.unmarshalIfVersionOK(data) == nil {
			s.loadFromFile(cf)
			return s, nil
		}
	}

	s.rebuildFromVectors()
	return s, nil
}

func (cf *clusterFile) unmarshalIfVersionOK(data []byte) error {
	if err := json.Unmarshal(data, cf); err != nil {
		return err
	}
	if cf.Version != clusterSchemaVersion {
		return fmt.Errorf("unknown cluster schema version %d", cf.Version)
	}
	return nil
}

func (s *Store) loadFromFile(cf clusterFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = make(map[int]*Cluster, len(cf.Clusters))
	s.assignment = make(map[string]int)
	s.nextClusterID = cf.NextID
	for _, entry := range cf.Clusters {
		c := &Cluster{ID: entry.ID, Centroid: entry.Centroid, Members: make(map[string]struct{}, len(entry.Members))}
		for _, key := range entry.Members {
			c.Members[key] = struct{}{}
			s.assignment[key] = entry.ID
		}
		s.clusters[entry.ID] = c
	}
}

// rebuildFromVectors replays every stored vector through assignLocked in
// insertion order, reconstructing clusters without any persisted cluster
// state.
func (s *Store) rebuildFromVectors() {
	ids, vecs := s.Store.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = make(map[int]*Cluster)
	s.assignment = make(map[string]int)
	s.nextClusterID = 0
	for i, id := range ids {
		s.assignLocked(id.Key(), vecs[i])
	}
}

func readEitherCluster(path string) (data []byte, compressed bool, err error) {
	if data, err = os.ReadFile(path); err == nil {
		return data, false, nil
	}
	data, err = os.ReadFile(path + ".gz")
	return data, true, err
}

func gunzipCluster(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
