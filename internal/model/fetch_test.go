package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloader_Ensure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := &Downloader{Client: srv.Client()}

	path, err := d.Ensure(context.Background(), dir, "net.onnx", srv.URL+"/net.onnx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "net.onnx"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	// A present file is never fetched again.
	_, err = d.Ensure(context.Background(), dir, "net.onnx", srv.URL+"/net.onnx")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloader_EnsureNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	d := &Downloader{Client: srv.Client()}

	_, err := d.Ensure(context.Background(), dir, "missing.onnx", srv.URL+"/missing.onnx")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file should be left behind")
}

func TestLoader_Fetch(t *testing.T) {
	t.Parallel()

	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c, err := ParseCatalog([]byte("models:\n  cain:\n    dir: cain\n    weight: cain.onnx\n"))
	require.NoError(t, err)
	c.Remote = srv.URL + "/"

	l := &Loader{Catalog: c, Dir: t.TempDir(), Downloader: &Downloader{Client: srv.Client()}}
	got, err := l.Fetch(context.Background(), "cain")
	require.NoError(t, err)
	assert.Equal(t, "cain.onnx", filepath.Base(got))
	assert.Equal(t, "/cain/cain.onnx", path.Load())
}
