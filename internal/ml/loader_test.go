package ml

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadModelFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "model.json")
	data, err := json.Marshal(scaleModel())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(good, data, 0o644))

	raw, model, err := LoadModelFile(good)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
	assert.Len(t, model.Operators, 6)

	broken := scaleModel()
	broken.Outputs = []int{42}
	data, err = json.Marshal(broken)
	require.NoError(t, err)
	bad := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(bad, data, 0o644))

	_, _, err = LoadModelFile(bad)
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, _, err = LoadModelFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
