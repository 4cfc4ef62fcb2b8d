package vstore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vectorcore/engine/internal/encoding"
	"github.com/vectorcore/engine/internal/types"
)

// metaSchemaVersion is the only version this store recognizes on load.
const metaSchemaVersion = 1

// metaFile mirrors meta.json's schema exactly (spec §6).
type metaFile struct {
	Version           int              `json:"version"`
	DefaultVectorSize *int             `json:"defaultVectorSize"`
	IDCounter         uint64           `json:"idCounter"`
	Vectors           []metaVectorEntry `json:"vectors"`
	Metadata          map[string]types.Metadata `json:"metadata"`
}

type metaVectorEntry struct {
	ID     json.RawMessage `json:"id"`
	Offset uint64          `json:"offset"`
	Length uint64          `json:"length"`
	Dim    uint64          `json:"dim"`
}

// Save writes meta.json(.gz) and vec.bin(.gz) to dir using a
// write-to-temp-then-rename protocol so a crash mid-write never leaves a
// half-written file in place of the previous good one.
func (s *Store) Save(dir string, compress bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError("save", err)
	}

	meta := metaFile{
		Version:   metaSchemaVersion,
		IDCounter: s.idCtr,
		Vectors:   make([]metaVectorEntry, 0, len(s.order)),
		Metadata:  make(map[string]types.Metadata, len(s.order)),
	}
	if s.haveDim {
		d := s.dim
		meta.DefaultVectorSize = &d
	}

	var blob []byte
	var offset uint64
	for _, key := range s.order {
		r := s.records[key]
		idJSON, err := json.Marshal(r.id)
		if err != nil {
			return types.WrapError("save", err)
		}
		length := uint64(r.dim) * 4
		meta.Vectors = append(meta.Vectors, metaVectorEntry{
			ID:     idJSON,
			Offset: offset,
			Length: length,
			Dim:    uint64(r.dim),
		})
		offset += length
		blob = encoding.EncodeVector(blob, r.vector)
		if len(r.metadata) > 0 {
			meta.Metadata[r.id.String()] = r.metadata
		}
	}

	metaName, vecName := "meta.json", "vec.bin"
	if compress {
		metaName += ".gz"
		vecName += ".gz"
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return types.WrapError("save", err)
	}
	if err := writeAtomic(filepath.Join(dir, metaName), metaBytes, compress); err != nil {
		return types.WrapError("save", err)
	}
	if err := writeAtomic(filepath.Join(dir, vecName), blob, compress); err != nil {
		return types.WrapError("save", err)
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it into place, so readers never observe a partial file.
func writeAtomic(path string, data []byte, compress bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

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

// Load reads meta.json(.gz) and vec.bin(.gz) from dir into a fresh Store,
// validating the invariants in spec §4.1: known version, vec.bin length
// equal to the sum of declared vector lengths, every vector slice at
// least dim*4 bytes.
func Load(dir string, cfg Config) (*Store, error) {
	metaBytes, metaCompressed, err := readEither(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	if metaCompressed {
		metaBytes, err = gunzip(metaBytes)
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
	}

	var meta metaFile
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	if meta.Version != metaSchemaVersion {
		return nil, types.WrapError("load", fmt.Errorf("%w: unknown meta version %d", types.ErrCorruption, meta.Version))
	}

	vecBytes, vecCompressed, err := readEither(filepath.Join(dir, "vec.bin"))
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	if vecCompressed {
		vecBytes, err = gunzip(vecBytes)
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
	}

	var wantLen uint64
	for _, v := range meta.Vectors {
		wantLen += v.Length
	}
	if uint64(len(vecBytes)) != wantLen {
		return nil, types.WrapError("load", fmt.Errorf("%w: vec.bin length %d != declared %d", types.ErrCorruption, len(vecBytes), wantLen))
	}

	s := New(cfg)
	s.idCtr = meta.IDCounter
	if meta.DefaultVectorSize != nil {
		s.haveDim = true
		s.dim = *meta.DefaultVectorSize
	}

	for _, entry := range meta.Vectors {
		var id types.VectorID
		if err := json.Unmarshal(entry.ID, &id); err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
		if entry.Offset+entry.Length > uint64(len(vecBytes)) {
			return nil, types.WrapError("load", fmt.Errorf("%w: offset %d out of bounds", types.ErrCorruption, entry.Offset))
		}
		vec, err := encoding.DecodeVector(vecBytes[entry.Offset:entry.Offset+entry.Length], int(entry.Dim))
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}

		key := id.Key()
		s.order = append(s.order, key)
		md := meta.Metadata[id.String()]
		s.records[key] = &record{id: id, vector: vec, dim: int(entry.Dim), metadata: md, seq: s.seq}
		s.seq++
		s.bumpCounterPast(id)
	}

	return s, nil
}

// readEither reads path or path+".gz", reporting which was found.
func readEither(path string) (data []byte, compressed bool, err error) {
	if data, err = os.ReadFile(path); err == nil {
		return data, false, nil
	}
	data, err = os.ReadFile(path + ".gz")
	return data, true, err
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
