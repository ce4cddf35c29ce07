package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/opensona/sona/internal/errors"
	"github.com/opensona/sona/internal/quantize"
	"github.com/opensona/sona/internal/vecmath"
)

// fileMagic identifies a SONA HNSW index file. The format is
// self-describing: every section carries its own length, so a reader
// never needs an external schema to reconstruct the graph.
const fileMagic = "SONAHNSW"

// FileMagic is the on-disk magic identifying a SONA HNSW index file,
// exported so external tools (the dimension-detection CLI) can sniff a
// file's type without parsing the rest of the format.
const FileMagic = fileMagic

const formatVersion = uint32(1)

// DetectDimension reads just enough of an HNSW index file at path to
// report its stored vector dimension, without loading the full graph.
func DetectDimension(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.IOError("hnsw: open for dimension sniff", err)
	}
	defer f.Close()

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return 0, errors.IOError("hnsw: read magic", err)
	}
	if string(magic) != fileMagic {
		return 0, errors.ValidationError(fmt.Sprintf("hnsw: bad magic %q", magic), nil)
	}

	var version uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return 0, errors.IOError("hnsw: read version", err)
	}

	var dimension uint32
	if err := binary.Read(f, binary.LittleEndian, &dimension); err != nil {
		return 0, errors.IOError("hnsw: read dimension", err)
	}
	return int(dimension), nil
}

// Save persists the index to path using an atomic temp-file-then-rename
// write, matching the durability pattern used by the rest of the
// storage layer.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return errors.NewClosed("hnsw.Save", "index")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.IOError("hnsw: create directory", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.IOError("hnsw: create temp file", err)
	}

	w := bufio.NewWriter(f)
	if err := idx.writeTo(w); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.IOError("hnsw: flush index file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.IOError("hnsw: close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.IOError("hnsw: rename index file", err)
	}
	return nil
}

// Load replaces the index's contents with the graph serialized at path.
func (idx *Index) Load(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errors.NewClosed("hnsw.Load", "index")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.IOError("hnsw: open index file", err)
	}
	defer f.Close()

	return idx.readFrom(bufio.NewReader(f))
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (idx *Index) writeTo(w io.Writer) error {
	if _, err := io.WriteString(w, fileMagic); err != nil {
		return errors.IOError("hnsw: write magic", err)
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return errors.IOError("hnsw: write version", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.config.Dimension)); err != nil {
		return errors.IOError("hnsw: write dimension", err)
	}
	if err := writeString(w, string(idx.config.Metric)); err != nil {
		return errors.IOError("hnsw: write metric", err)
	}
	for _, v := range []uint32{
		uint32(idx.config.M),
		uint32(idx.config.EfConstruction),
		uint32(idx.config.EfSearch),
		uint32(idx.config.RerankCandidates),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.IOError("hnsw: write config field", err)
		}
	}
	quantFlag := uint8(0)
	if idx.config.Quantization {
		quantFlag = 1
	}
	if err := binary.Write(w, binary.LittleEndian, quantFlag); err != nil {
		return errors.IOError("hnsw: write quantization flag", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(idx.entryPoint)); err != nil {
		return errors.IOError("hnsw: write entry point", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(idx.entryLevel)); err != nil {
		return errors.IOError("hnsw: write entry level", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.nodes))); err != nil {
		return errors.IOError("hnsw: write node count", err)
	}

	for _, n := range idx.nodes {
		if err := writeNode(w, n, idx.config.Quantization); err != nil {
			return err
		}
	}
	return nil
}

func writeNode(w io.Writer, n *node, quantized bool) error {
	if err := writeString(w, n.id); err != nil {
		return errors.IOError("hnsw: write node id", err)
	}
	deletedFlag := uint8(0)
	if n.deleted {
		deletedFlag = 1
	}
	if err := binary.Write(w, binary.LittleEndian, deletedFlag); err != nil {
		return errors.IOError("hnsw: write deleted flag", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(n.level)); err != nil {
		return errors.IOError("hnsw: write node level", err)
	}

	for level := 0; level <= n.level; level++ {
		neighbors := n.neighbors[level]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(neighbors))); err != nil {
			return errors.IOError("hnsw: write neighbor count", err)
		}
		for _, nb := range neighbors {
			if err := binary.Write(w, binary.LittleEndian, nb); err != nil {
				return errors.IOError("hnsw: write neighbor id", err)
			}
		}
	}

	for _, x := range n.vector {
		if err := binary.Write(w, binary.LittleEndian, x); err != nil {
			return errors.IOError("hnsw: write vector component", err)
		}
	}

	if quantized {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(n.quantized.Codes))); err != nil {
			return errors.IOError("hnsw: write code count", err)
		}
		for _, c := range n.quantized.Codes {
			if err := binary.Write(w, binary.LittleEndian, c); err != nil {
				return errors.IOError("hnsw: write code", err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, n.quantized.Scale); err != nil {
			return errors.IOError("hnsw: write scale", err)
		}
		if err := binary.Write(w, binary.LittleEndian, n.quantized.ZeroPoint); err != nil {
			return errors.IOError("hnsw: write zero point", err)
		}
	}
	return nil
}

func (idx *Index) readFrom(r io.Reader) error {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return errors.IOError("hnsw: read magic", err)
	}
	if string(magic) != fileMagic {
		return errors.ValidationError(fmt.Sprintf("hnsw: bad magic %q", magic), nil)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return errors.IOError("hnsw: read version", err)
	}
	if version > formatVersion {
		return errors.ValidationError(fmt.Sprintf("hnsw: unsupported format version %d", version), nil)
	}

	var dimension uint32
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return errors.IOError("hnsw: read dimension", err)
	}
	metric, err := readString(r)
	if err != nil {
		return errors.IOError("hnsw: read metric", err)
	}

	var m, efConstruction, efSearch, rerankCandidates uint32
	for _, v := range []*uint32{&m, &efConstruction, &efSearch, &rerankCandidates} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return errors.IOError("hnsw: read config field", err)
		}
	}
	var quantFlag uint8
	if err := binary.Read(r, binary.LittleEndian, &quantFlag); err != nil {
		return errors.IOError("hnsw: read quantization flag", err)
	}
	var entryPoint, entryLevel int32
	if err := binary.Read(r, binary.LittleEndian, &entryPoint); err != nil {
		return errors.IOError("hnsw: read entry point", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &entryLevel); err != nil {
		return errors.IOError("hnsw: read entry level", err)
	}
	var nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return errors.IOError("hnsw: read node count", err)
	}

	quantizationEnabled := quantFlag == 1
	nodes := make([]*node, nodeCount)
	idToIndex := make(map[string]uint32, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		n, err := readNode(r, int(dimension), quantizationEnabled)
		if err != nil {
			return err
		}
		nodes[i] = n
		if !n.deleted {
			idToIndex[n.id] = i
		}
	}

	idx.config.Dimension = int(dimension)
	idx.config.Metric = vecmath.Metric(metric)
	idx.config.M = int(m)
	idx.config.EfConstruction = int(efConstruction)
	idx.config.EfSearch = int(efSearch)
	idx.config.RerankCandidates = int(rerankCandidates)
	idx.config.Quantization = quantizationEnabled
	idx.mLevel = 1 / math.Log(float64(idx.config.M))
	idx.entryPoint = int(entryPoint)
	idx.entryLevel = int(entryLevel)
	idx.nodes = nodes
	idx.idToIndex = idToIndex
	return nil
}

func readNode(r io.Reader, dimension int, quantized bool) (*node, error) {
	id, err := readString(r)
	if err != nil {
		return nil, errors.IOError("hnsw: read node id", err)
	}
	var deletedFlag uint8
	if err := binary.Read(r, binary.LittleEndian, &deletedFlag); err != nil {
		return nil, errors.IOError("hnsw: read deleted flag", err)
	}
	var level int32
	if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
		return nil, errors.IOError("hnsw: read node level", err)
	}

	n := &node{
		id:        id,
		deleted:   deletedFlag == 1,
		level:     int(level),
		neighbors: make([][]uint32, level+1),
	}

	for l := int32(0); l <= level; l++ {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, errors.IOError("hnsw: read neighbor count", err)
		}
		neighbors := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			if err := binary.Read(r, binary.LittleEndian, &neighbors[i]); err != nil {
				return nil, errors.IOError("hnsw: read neighbor id", err)
			}
		}
		n.neighbors[l] = neighbors
	}

	vector := make([]float32, dimension)
	for i := range vector {
		if err := binary.Read(r, binary.LittleEndian, &vector[i]); err != nil {
			return nil, errors.IOError("hnsw: read vector component", err)
		}
	}
	n.vector = vector

	if quantized {
		var codeCount uint32
		if err := binary.Read(r, binary.LittleEndian, &codeCount); err != nil {
			return nil, errors.IOError("hnsw: read code count", err)
		}
		codes := make([]int8, codeCount)
		for i := range codes {
			if err := binary.Read(r, binary.LittleEndian, &codes[i]); err != nil {
				return nil, errors.IOError("hnsw: read code", err)
			}
		}
		var scale, zeroPoint float32
		if err := binary.Read(r, binary.LittleEndian, &scale); err != nil {
			return nil, errors.IOError("hnsw: read scale", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &zeroPoint); err != nil {
			return nil, errors.IOError("hnsw: read zero point", err)
		}
		n.quantized = quantize.Vector{Codes: codes, Scale: scale, ZeroPoint: zeroPoint}
	}

	return n, nil
}

