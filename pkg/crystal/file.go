package crystal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

// Crystal files carry the waypoint in front of the payload.
//
// Utf8:   "#crystal position=<n> hash=<16 hex>\n" followed by the payload.
// Binary: "CRYS" | position uint64 | hash uint64 (little endian) | payload.
const (
	utf8Prefix       = "#crystal "
	binaryMagic      = "CRYS"
	binaryHeaderSize = 4 + 8 + 8
)

func encodeFile(format core.SaveFormat, wp core.Waypoint, payload []byte) []byte {
	if format == core.FormatUtf8 {
		header := fmt.Sprintf("%sposition=%d hash=%016x\n", utf8Prefix, wp.Position, wp.Hash)
		out := make([]byte, 0, len(header)+len(payload))
		out = append(out, header...)
		return append(out, payload...)
	}

	out := make([]byte, binaryHeaderSize, binaryHeaderSize+len(payload))
	copy(out, binaryMagic)
	binary.LittleEndian.PutUint64(out[4:], wp.Position)
	binary.LittleEndian.PutUint64(out[12:], wp.Hash)
	return append(out, payload...)
}

// decodeFile splits a crystal file into its waypoint and payload and checks
// the payload against the recorded hash.
func decodeFile(format core.SaveFormat, data []byte) (core.Waypoint, []byte, error) {
	var wp core.Waypoint
	var payload []byte

	if format == core.FormatUtf8 {
		line, rest, ok := bytes.Cut(data, []byte("\n"))
		if !ok || !bytes.HasPrefix(line, []byte(utf8Prefix)) {
			return wp, nil, fmt.Errorf("missing crystal header: %w", core.ErrCorruptedData)
		}
		if _, err := fmt.Sscanf(string(line[len(utf8Prefix):]), "position=%d hash=%x", &wp.Position, &wp.Hash); err != nil {
			return wp, nil, fmt.Errorf("malformed crystal header: %w: %w", core.ErrCorruptedData, err)
		}
		payload = rest
	} else {
		if len(data) < binaryHeaderSize || string(data[:4]) != binaryMagic {
			return wp, nil, fmt.Errorf("missing crystal header: %w", core.ErrCorruptedData)
		}
		wp.Position = binary.LittleEndian.Uint64(data[4:])
		wp.Hash = binary.LittleEndian.Uint64(data[12:])
		payload = data[binaryHeaderSize:]
	}

	if xxhash.Sum64(payload) != wp.Hash {
		return wp, nil, fmt.Errorf("crystal payload hash mismatch: %w", core.ErrCorruptedData)
	}
	return wp, payload, nil
}
