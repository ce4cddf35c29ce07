package trajectory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/opensona/sona/internal/errors"
)

const (
	logMagic      = "TRAJ"
	logVersion    = uint32(2)
	headerSize    = 20
	flagLZ4       = uint8(1 << 0)
	compressAbove = 256 // records smaller than this are left uncompressed
)

// LogMagic and LogVersion are exported so external tools (the
// dimension-detection CLI) can sniff a trajectory log's type and
// version without parsing the rest of the format.
const (
	LogMagic   = logMagic
	LogVersion = logVersion
)

// ReadHeaderAt opens the trajectory log at path and returns its header,
// for tooling that needs to inspect a log without opening a full
// Manager over its directory.
func ReadHeaderAt(path string) (trajectoryCount uint32, version uint32, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return 0, 0, errors.IOError("trajectory: open for header sniff", openErr)
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return 0, 0, err
	}
	return h.TrajectoryCount, h.Version, nil
}

// record is one flushed trajectory's on-disk representation, decoupled
// from the in-memory Trajectory struct so the JSON payload format can
// evolve independently of it across log versions.
type record struct {
	ID           string            `json:"id"`
	Route        string            `json:"route"`
	StepCount    int               `json:"step_count"`
	QualityScore float64           `json:"quality_score"`
	Status       string            `json:"status"`
	CreatedAt    int64             `json:"created_at_unix"`
	CompletedAt  *int64            `json:"completed_at_unix,omitempty"`
	Payload      []byte            `json:"payload,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func toRecord(t *Trajectory) record {
	r := record{
		ID:           t.ID,
		Route:        t.Route,
		StepCount:    t.StepCount,
		QualityScore: t.QualityScore,
		Status:       t.Status,
		CreatedAt:    t.CreatedAt.Unix(),
		Payload:      t.Payload,
		Metadata:     t.Metadata,
	}
	if t.CompletedAt != nil {
		u := t.CompletedAt.Unix()
		r.CompletedAt = &u
	}
	return r
}

func (r record) toTrajectory() *Trajectory {
	t := &Trajectory{
		ID:           r.ID,
		Route:        r.Route,
		StepCount:    r.StepCount,
		QualityScore: r.QualityScore,
		Status:       r.Status,
		Payload:      r.Payload,
		Metadata:     r.Metadata,
	}
	t.CreatedAt = unixTime(r.CreatedAt)
	if r.CompletedAt != nil {
		ct := unixTime(*r.CompletedAt)
		t.CompletedAt = &ct
	}
	return t
}

// encodedRecord is one length-prefixed log entry plus the byte range it
// occupies, used by the writer to populate the index after a flush.
type encodedRecord struct {
	bytes  []byte
	offset uint32
	length uint32
}

// encodeOneRecord serializes a single trajectory into its full
// length-prefixed wire entry (length + flags + payload), LZ4-compressing
// the payload if it's over compressAbove bytes.
func encodeOneRecord(t *Trajectory) ([]byte, error) {
	payload, err := json.Marshal(toRecord(t))
	if err != nil {
		return nil, errors.InternalError("trajectory: marshal record", err)
	}

	flags := uint8(0)
	if len(payload) >= compressAbove {
		compressed := make([]byte, lz4.CompressBlockBound(len(payload)))
		var c lz4.Compressor
		n, err := c.CompressBlock(payload, compressed)
		if err == nil && n > 0 && n < len(payload) {
			payload = compressed[:n]
			flags = flagLZ4
		}
	}

	entryLen := uint32(1 + len(payload))
	entry := make([]byte, 0, 4+entryLen)
	buf := bytes.NewBuffer(entry)
	if err := binary.Write(buf, binary.LittleEndian, entryLen); err != nil {
		return nil, errors.IOError("trajectory: write record length", err)
	}
	if err := buf.WriteByte(flags); err != nil {
		return nil, errors.IOError("trajectory: write record flags", err)
	}
	if _, err := buf.Write(payload); err != nil {
		return nil, errors.IOError("trajectory: write record payload", err)
	}
	return buf.Bytes(), nil
}

// encodeRecords serializes trajectories into length-prefixed v2 records.
// Each record's JSON marshal and optional LZ4 compression is independent
// CPU work, so the per-record encoding fans out across an errgroup
// before the results are concatenated in order; offsets depend on each
// entry's final size, so that step stays sequential.
func encodeRecords(trajectories []*Trajectory, baseOffset uint32) ([]byte, []encodedRecord, error) {
	entries := make([][]byte, len(trajectories))

	g := new(errgroup.Group)
	for i, t := range trajectories {
		i, t := i, t
		g.Go(func() error {
			entry, err := encodeOneRecord(t)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	out := make([]encodedRecord, 0, len(trajectories))
	offset := baseOffset
	for _, entry := range entries {
		buf.Write(entry)
		recordTotal := uint32(len(entry))
		out = append(out, encodedRecord{offset: offset, length: recordTotal})
		offset += recordTotal
	}

	return buf.Bytes(), out, nil
}

// decodeRecord reads one length-prefixed record starting at the reader's
// current position, decompressing it if flagged.
func decodeRecord(r io.Reader) (*Trajectory, uint32, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, 0, err // io.EOF propagates to the caller as end-of-log
	}
	if length == 0 {
		return nil, 4, errors.ValidationError("trajectory: zero-length record", nil)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, errors.IOError("trajectory: read record body", err)
	}

	flags := body[0]
	payload := body[1:]
	if flags&flagLZ4 != 0 {
		decompressed := make([]byte, 0, len(payload)*4)
		// grow until decompression succeeds; LZ4 block format has no
		// embedded uncompressed-size header in this encoding, so guess
		// and retry is the straightforward approach here.
		for cap(decompressed) < 64<<20 {
			decompressed = decompressed[:cap(decompressed)]
			n, err := lz4.UncompressBlock(payload, decompressed)
			if err == nil {
				payload = decompressed[:n]
				break
			}
			decompressed = make([]byte, cap(decompressed)*2+compressAbove)
		}
	}

	var r2 record
	if err := json.Unmarshal(payload, &r2); err != nil {
		return nil, 0, errors.IOError("trajectory: unmarshal record", err)
	}
	return r2.toTrajectory(), 4 + length, nil
}

// header is the fixed 20-byte log header.
type header struct {
	Magic             [4]byte
	Version           uint32
	TrajectoryCount   uint32
	Checksum          uint32
	RollbackStateOff  uint32
}

func writeHeader(w io.Writer, h header) error {
	if _, err := w.Write(h.Magic[:]); err != nil {
		return err
	}
	for _, v := range []uint32{h.Version, h.TrajectoryCount, h.Checksum, h.RollbackStateOff} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r io.Reader) (header, error) {
	var h header
	if _, err := io.ReadFull(r, h.Magic[:]); err != nil {
		return h, err
	}
	if string(h.Magic[:]) != logMagic {
		return h, errors.ValidationError("trajectory: bad log magic", nil)
	}
	for _, v := range []*uint32{&h.Version, &h.TrajectoryCount, &h.Checksum, &h.RollbackStateOff} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return h, err
		}
	}
	return h, nil
}

func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func marshalRollbackState(s RollbackState) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, errors.InternalError("trajectory: marshal rollback state", err)
	}
	return b, nil
}

func readRollbackState(r io.Reader) (*RollbackState, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.IOError("trajectory: read rollback state", err)
	}
	var s RollbackState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.IOError("trajectory: unmarshal rollback state", err)
	}
	return &s, nil
}
