package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	e, err := c.Lookup("yolox_s")
	require.NoError(t, err)
	assert.Equal(t, "yolox_s", e.Name)
	assert.Equal(t, "yolox_s.opt.onnx", e.Weight)
	assert.Equal(t, 640, e.Height)

	padim, err := c.Lookup("padim_resnet18")
	require.NoError(t, err)
	assert.Equal(t, []string{"140", "156", "172"}, padim.Outputs)
}

func TestLoadCatalog_RemoteOverride(t *testing.T) {
	t.Setenv("MODEL_REMOTE", "http://mirror.local/models")

	c, err := LoadCatalog()
	require.NoError(t, err)
	e, err := c.Lookup("cain")
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.local/models/cain/cain.onnx", c.URL(e, e.Weight))
}

func TestCatalog_UnknownModel(t *testing.T) {
	t.Parallel()

	c, err := ParseCatalog([]byte("models:\n  a:\n    weight: a.onnx\n"))
	require.NoError(t, err)
	_, err = c.Lookup("b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known: a")
}

func TestParseCatalog_MissingWeight(t *testing.T) {
	t.Parallel()

	_, err := ParseCatalog([]byte("models:\n  a:\n    dir: a\n"))
	assert.Error(t, err)
}
