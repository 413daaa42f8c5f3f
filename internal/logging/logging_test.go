package logging

import (
	"os"
	"path/filepath"
	"testing"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests that Init writes to the given file and creates its directory.
func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "huddle.log")
	require.NoError(t, Init(jww.LevelInfo, path))

	jww.INFO.Print("hello from test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

// Tests that an out-of-range threshold is rejected.
func TestInit_InvalidThreshold(t *testing.T) {
	assert.Error(t, Init(jww.Threshold(42), "-"))
}
