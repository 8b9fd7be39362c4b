package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

const snapshotVersion = 1

type snapshotEntry struct {
	ID   uint64
	Size int64
}

// snapshot is the persisted size table. On disk it is the XDR encoding
// followed by the 8-byte little-endian xxhash of that encoding.
type snapshot struct {
	Version  uint32
	Position uint64
	Entries  []snapshotEntry
}

func newSnapshot(position uint64, sizes map[core.FileID]int64) *snapshot {
	entries := make([]snapshotEntry, 0, len(sizes))
	for id, size := range sizes {
		entries = append(entries, snapshotEntry{ID: uint64(id), Size: size})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return &snapshot{Version: snapshotVersion, Position: position, Entries: entries}
}

func (s *snapshot) table() map[core.FileID]int64 {
	out := make(map[core.FileID]int64, len(s.Entries))
	for _, e := range s.Entries {
		out[core.FileID(e.ID)] = e.Size
	}
	return out
}

func (s *snapshot) encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, s); err != nil {
		return nil, fmt.Errorf("failed to encode storage snapshot: %w: %w", core.ErrSerialize, err)
	}
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(buf.Bytes()))
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("storage snapshot too short: %w", core.ErrCorruptedData)
	}
	body, sum := data[:len(data)-8], binary.LittleEndian.Uint64(data[len(data)-8:])
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("storage snapshot checksum mismatch: %w", core.ErrCorruptedData)
	}
	var s snapshot
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &s); err != nil {
		return nil, fmt.Errorf("failed to decode storage snapshot: %w: %w", core.ErrDeserialize, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported storage snapshot version %d: %w", s.Version, core.ErrCorruptedData)
	}
	return &s, nil
}
