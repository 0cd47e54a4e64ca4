package csvx

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamerUsesCRLF(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamer(&buf)
	require.NoError(t, s.WriteComment("generated"))
	require.NoError(t, s.WriteRow([]string{"a", "b,c"}))
	require.NoError(t, s.Close())

	assert.Equal(t, "# generated\r\na,\"b,c\"\r\n", buf.String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Job Number", Label("job_number"))
	assert.Equal(t, "Status", Label("status"))
}
