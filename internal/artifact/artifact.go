// Package artifact defines the on-disk format of a trained classifier.
//
// A file is a fixed header followed by a gob payload:
//
//	magic   [8]byte  "IRISMDL\x00"
//	version uint16   format version, big endian
//	length  uint32   payload length in bytes
//	crc     uint32   CRC-32 (IEEE) of the payload
//	payload []byte   gob-encoded Snapshot
//
// The Snapshot is its own record type so that files stay readable when the
// in-memory model types change, and so that Decode can reject anything that
// is not a complete, internally consistent model.
package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

const FormatVersion uint16 = 1

var magic = [8]byte{'I', 'R', 'I', 'S', 'M', 'D', 'L', 0}

const headerSize = 8 + 2 + 4 + 4

// maxPayload bounds the allocation made from an untrusted length field.
const maxPayload = 256 << 20

var (
	ErrNotFound = errors.New("model artifact not found")
	ErrCorrupt  = errors.New("model artifact is corrupt")
)

type Snapshot struct {
	FeatureNames []string
	ClassNames   []string
	Scaler       ScalerRecord
	Forest       ForestRecord
	// Metadata is the JSON document describing the training run.
	Metadata []byte
}

type ScalerRecord struct {
	Mean  []float64
	Scale []float64
}

type ForestRecord struct {
	NEstimators int
	MaxDepth    int
	Seed        int64
	Importances []float64
	Trees       []TreeRecord
}

type TreeRecord struct {
	Nodes []NodeRecord
}

type NodeRecord struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Leaf      bool
	Proba     []float64
}

func Encode(w io.Writer, s *Snapshot) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refusing to encode invalid snapshot: %w", err)
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if payload.Len() > maxPayload {
		return fmt.Errorf("snapshot too large: %d bytes", payload.Len())
	}
	header := make([]byte, headerSize)
	copy(header, magic[:])
	binary.BigEndian.PutUint16(header[8:], FormatVersion)
	binary.BigEndian.PutUint32(header[10:], uint32(payload.Len()))
	binary.BigEndian.PutUint32(header[14:], crc32.ChecksumIEEE(payload.Bytes()))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// Decode reads one artifact. Every format or consistency problem is
// reported as ErrCorrupt.
func Decode(r io.Reader) (*Snapshot, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, readErr("header", err)
	}
	if !bytes.Equal(header[:8], magic[:]) {
		return nil, corrupt("bad magic %q", header[:8])
	}
	if v := binary.BigEndian.Uint16(header[8:]); v != FormatVersion {
		return nil, corrupt("unsupported format version %d", v)
	}
	length := binary.BigEndian.Uint32(header[10:])
	if length == 0 || length > maxPayload {
		return nil, corrupt("bad payload length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readErr("payload", err)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != binary.BigEndian.Uint32(header[14:]) {
		return nil, corrupt("checksum mismatch")
	}
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&s); err != nil {
		return nil, corrupt("decode payload: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// readErr reports a short read as corruption and passes other read
// failures through.
func readErr(part string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return corrupt("read %s: %v", part, err)
	}
	return fmt.Errorf("read %s: %w", part, err)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Validate checks that the snapshot describes a usable model.
func (s *Snapshot) Validate() error {
	nFeats := len(s.FeatureNames)
	nClasses := len(s.ClassNames)
	if nFeats == 0 {
		return corrupt("no feature names")
	}
	if nClasses < 2 {
		return corrupt("need at least two classes, got %d", nClasses)
	}
	if len(s.Scaler.Mean) != nFeats || len(s.Scaler.Scale) != nFeats {
		return corrupt("scaler has %d/%d entries for %d features", len(s.Scaler.Mean), len(s.Scaler.Scale), nFeats)
	}
	for j := range s.Scaler.Scale {
		if !finite(s.Scaler.Mean[j]) || !finite(s.Scaler.Scale[j]) || s.Scaler.Scale[j] <= 0 {
			return corrupt("scaler entry %d is not usable", j)
		}
	}
	if len(s.Forest.Importances) != nFeats {
		return corrupt("forest has %d importances for %d features", len(s.Forest.Importances), nFeats)
	}
	if len(s.Forest.Trees) == 0 {
		return corrupt("forest has no trees")
	}
	for t, tree := range s.Forest.Trees {
		if err := tree.validate(nFeats, nClasses); err != nil {
			return corrupt("tree %d: %v", t, err)
		}
	}
	if len(s.Metadata) == 0 {
		return corrupt("missing metadata")
	}
	return nil
}

func (t TreeRecord) validate(nFeats, nClasses int) error {
	if len(t.Nodes) == 0 {
		return errors.New("no nodes")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			if len(n.Proba) != nClasses {
				return fmt.Errorf("leaf %d has %d probabilities, want %d", i, len(n.Proba), nClasses)
			}
			for _, p := range n.Proba {
				if !finite(p) || p < 0 {
					return fmt.Errorf("leaf %d has invalid probability %v", i, p)
				}
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= nFeats {
			return fmt.Errorf("node %d splits on feature %d", i, n.Feature)
		}
		if !finite(n.Threshold) {
			return fmt.Errorf("node %d has invalid threshold", i)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has children %d/%d out of range", i, n.Left, n.Right)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
