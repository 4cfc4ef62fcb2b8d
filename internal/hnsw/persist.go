package hnsw

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/vectorcore/engine/internal/distance"
	"github.com/vectorcore/engine/internal/types"
)

// hnsw.bin's fixed layout (spec §6): magic "HNSW", a version tag, the
// graph's construction parameters, then one record per node.
var magic = [4]byte{'H', 'N', 'S', 'W'}

const binVersion uint16 = 1

// Save serializes the graph to hnsw.bin(.gz) under dir.
func (idx *Index) Save(dir string, compress bool) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU16(&buf, binVersion)
	writeU16(&buf, uint16(idx.cfg.M))
	writeU32(&buf, uint32(idx.cfg.EfConstruction))
	buf.WriteByte(byte(idx.cfg.Metric))
	writeIDField(&buf, idx.entryPoint)
	buf.WriteByte(byte(idx.topLevel + 1)) // stored as +1 so -1 (no entry point) fits a byte

	writeU32(&buf, uint32(len(idx.order)))
	for _, key := range idx.order {
		nd := idx.nodes[key]
		writeIDField(&buf, key)
		deleted := byte(0)
		if nd.deleted {
			deleted = 1
		}
		buf.WriteByte(deleted)
		buf.WriteByte(byte(nd.level))
		vec := idx.vectorOf(nd)
		writeU32(&buf, uint32(len(vec)))
		for _, f := range vec {
			writeU32(&buf, math.Float32bits(f))
		}
		for l := 0; l <= nd.level; l++ {
			ns := nd.neighbors[l]
			writeU32(&buf, uint32(len(ns)))
			for _, nbKey := range ns {
				writeIDField(&buf, nbKey)
			}
		}
	}

	name := "hnsw.bin"
	if compress {
		name += ".gz"
	}
	return writeAtomicHNSW(filepath.Join(dir, name), buf.Bytes(), compress)
}

// Load reconstructs an Index from hnsw.bin(.gz) under dir. cfg.Quantizer,
// cfg.Bus, and cfg.Logger are carried from the caller since the binary
// format does not serialize them.
func Load(dir string, cfg Config) (*Index, error) {
	data, compressed, err := readEitherHNSW(filepath.Join(dir, "hnsw.bin"))
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	if compressed {
		data, err = gunzipHNSW(data)
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
	}

	r := bytes.NewReader(data)
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil || gotMagic != magic {
		return nil, types.WrapError("load", fmt.Errorf("%w: bad magic", types.ErrCorruption))
	}
	version, err := readU16(r)
	if err != nil || version != binVersion {
		return nil, types.WrapError("load", fmt.Errorf("%w: unknown hnsw.bin version", types.ErrCorruption))
	}

	m, err := readU16(r)
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	efc, err := readU32(r)
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	metricByte, err := r.ReadByte()
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	entryKey, err := readIDField(r)
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}
	topLevelByte, err := r.ReadByte()
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}

	cfg.M = int(m)
	cfg.EfConstruction = int(efc)
	cfg.Metric = distance.Metric(metricByte)
	idx := New(cfg)
	idx.entryPoint = entryKey
	idx.topLevel = int(topLevelByte) - 1

	count, err := readU32(r)
	if err != nil {
		return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
	}

	idx.order = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := readIDField(r)
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
		deletedByte, err := r.ReadByte()
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
		levelByte, err := r.ReadByte()
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
		dim, err := readU32(r)
		if err != nil {
			return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
		}
		vec := make([]float32, dim)
		for j := uint32(0); j < dim; j++ {
			bits, err := readU32(r)
			if err != nil {
				return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
			}
			vec[j] = math.Float32frombits(bits)
		}

		level := int(levelByte)
		nd := &node{id: idFromKey(key), vector: vec, level: level, neighbors: make([][]string, level+1), deleted: deletedByte == 1}
		for l := 0; l <= level; l++ {
			n, err := readU32(r)
			if err != nil {
				return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
			}
			ns := make([]string, n)
			for k := uint32(0); k < n; k++ {
				nbKey, err := readIDField(r)
				if err != nil {
					return nil, types.WrapError("load", fmt.Errorf("%w: %v", types.ErrCorruption, err))
				}
				ns[k] = nbKey
			}
			nd.neighbors[l] = ns
		}

		idx.nodes[key] = nd
		idx.order = append(idx.order, key)
		if deletedByte == 1 {
			idx.tombstones++
		}
	}

	if len(idx.nodes) == 0 {
		idx.state = Empty
	} else if idx.tombstoneFractionLocked() > float64(idx.cfg.AutoRebuildThreshold) {
		idx.state = Stale
	} else {
		idx.state = Ready
	}
	return idx, nil
}

// idFromKey recovers a VectorID from its Key() encoding ("i:<uint>" or
// "s:<string>"), the inverse of types.VectorID.Key used as the map key
// throughout this package.
func idFromKey(key string) types.VectorID {
	if len(key) > 2 && key[:2] == "i:" {
		var v uint64
		fmt.Sscanf(key[2:], "%d", &v)
		return types.IntID(v)
	}
	if len(key) > 2 && key[:2] == "s:" {
		return types.StringID(key[2:])
	}
	return types.StringID(key)
}

func writeIDField(buf *bytes.Buffer, key string) {
	b, _ := json.Marshal(key)
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readIDField(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", err
	}
	return key, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeAtomicHNSW(path string, data []byte, compress bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bw := bufio.NewWriter(tmp)
	var w io.Writer = bw
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(bw)
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
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func readEitherHNSW(path string) (data []byte, compressed bool, err error) {
	if data, err = os.ReadFile(path); err == nil {
		return data, false, nil
	}
	data, err = os.ReadFile(path + ".gz")
	return data, true, err
}

func gunzipHNSW(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
