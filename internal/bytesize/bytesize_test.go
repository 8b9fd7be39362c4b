package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]ByteSize{
		"1024":    1024,
		"64Mi":    64 * MiB,
		"1gb":     GB,
		"1.5Ki":   1536,
		" 2 GiB ": 2 * GiB,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("12 parsecs")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "64Mi", (64 * MiB).String())
	assert.Equal(t, "1000", ByteSize(1000).String())
	assert.Equal(t, "5000", ByteSize(5000).String())
}
