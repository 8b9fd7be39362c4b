package journal

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

// Record layout (little endian):
//
//	length   uint32  payload length
//	checksum uint32  low 32 bits of xxhash(plane | type | payload)
//	plane    uint32
//	type     uint8
//	payload  [length]byte
const recordHeaderSize = 13

// maxPayload guards against reading absurd lengths out of a corrupted stream.
const maxPayload = 1 << 30

// Record is one decoded journal record.
type Record struct {
	// Position is the journal position at which the record starts.
	Position uint64
	Plane    uint32
	Type     core.RecordType
	Payload  []byte
}

// End returns the position following the record.
func (r Record) End() uint64 {
	return r.Position + uint64(recordHeaderSize+len(r.Payload))
}

func checksum(plane uint32, t core.RecordType, payload []byte) uint32 {
	var head [5]byte
	binary.LittleEndian.PutUint32(head[:], plane)
	head[4] = byte(t)
	d := xxhash.New()
	_, _ = d.Write(head[:])
	_, _ = d.Write(payload)
	return uint32(d.Sum64())
}

// appendRecord encodes one record onto buf.
func appendRecord(buf []byte, plane uint32, t core.RecordType, payload []byte) []byte {
	var head [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(head[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(head[4:], checksum(plane, t, payload))
	binary.LittleEndian.PutUint32(head[8:], plane)
	head[12] = byte(t)
	buf = append(buf, head[:]...)
	return append(buf, payload...)
}

// ReadRecords decodes the records in data, which starts at journal position
// start, calling fn for each. It returns the number of bytes consumed by whole
// valid records. A truncated tail or a checksum mismatch stops decoding with
// an error wrapping core.ErrCorruptedData.
func ReadRecords(start uint64, data []byte, fn func(Record) error) (int, error) {
	offset := 0
	for offset < len(data) {
		if len(data)-offset < recordHeaderSize {
			return offset, fmt.Errorf("truncated record header at %d: %w", start+uint64(offset), core.ErrCorruptedData)
		}
		length := binary.LittleEndian.Uint32(data[offset:])
		sum := binary.LittleEndian.Uint32(data[offset+4:])
		plane := binary.LittleEndian.Uint32(data[offset+8:])
		t := core.RecordType(data[offset+12])

		if length > maxPayload || len(data)-offset-recordHeaderSize < int(length) {
			return offset, fmt.Errorf("truncated record at %d: %w", start+uint64(offset), core.ErrCorruptedData)
		}
		payload := data[offset+recordHeaderSize : offset+recordHeaderSize+int(length)]
		if checksum(plane, t, payload) != sum {
			return offset, fmt.Errorf("checksum mismatch at %d: %w", start+uint64(offset), core.ErrCorruptedData)
		}

		if fn != nil {
			rec := Record{
				Position: start + uint64(offset),
				Plane:    plane,
				Type:     t,
				Payload:  payload,
			}
			if err := fn(rec); err != nil {
				return offset, err
			}
		}
		offset += recordHeaderSize + int(length)
	}
	return offset, nil
}

// Replay reads every record of j from position onwards and passes the records
// of plane to fn. It returns the position where replay stopped.
func Replay(ctx context.Context, j core.Journal, position uint64, plane uint32, fn func(Record) error) (uint64, error) {
	for position < j.Position() {
		if err := ctx.Err(); err != nil {
			return position, err
		}
		next, data, err := j.ReadJournal(ctx, position)
		if err != nil {
			return position, err
		}
		if len(data) == 0 || next <= position {
			break
		}
		var failed error
		_, err = ReadRecords(position, data, func(r Record) error {
			if r.Plane != plane {
				return nil
			}
			if err := fn(r); err != nil {
				failed = err
				return err
			}
			position = r.End()
			return nil
		})
		if failed != nil {
			return position, failed
		}
		if err != nil {
			return position, err
		}
		position = next
	}
	return position, nil
}
