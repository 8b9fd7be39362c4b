package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

func TestReadRecords(t *testing.T) {
	var buf []byte
	buf = appendRecord(buf, 3, core.RecordAdd, []byte("alpha"))
	buf = appendRecord(buf, 4, core.RecordRemove, nil)

	t.Run("Decodes Positions", func(t *testing.T) {
		var got []Record
		n, err := ReadRecords(100, buf, func(r Record) error {
			got = append(got, r)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		require.Len(t, got, 2)
		assert.Equal(t, uint64(100), got[0].Position)
		assert.Equal(t, uint64(118), got[0].End())
		assert.Equal(t, uint32(3), got[0].Plane)
		assert.Equal(t, "alpha", string(got[0].Payload))
		assert.Equal(t, core.RecordRemove, got[1].Type)
		assert.Equal(t, uint64(118), got[1].Position)
	})

	t.Run("Detects Checksum Mismatch", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[recordHeaderSize] ^= 0xff
		n, err := ReadRecords(0, bad, nil)
		assert.ErrorIs(t, err, core.ErrCorruptedData)
		assert.Equal(t, 0, n)
	})

	t.Run("Stops At Truncated Tail", func(t *testing.T) {
		n, err := ReadRecords(0, buf[:len(buf)-3], nil)
		assert.ErrorIs(t, err, core.ErrCorruptedData)
		assert.Equal(t, 18, n)
	})
}
