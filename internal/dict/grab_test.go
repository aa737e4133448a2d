package dict

import (
	"context"
	"fuzzrig/internal/project/projecttest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGrabDict(t *testing.T) {
	proj := projecttest.New(t, "decode", "parse")
	d := NewDictGrabber(DictGrabberParams{Logger: zap.NewNop()})

	path, cleanup, err := d.GrabDict(context.Background(), proj, "decode")
	require.NoError(t, err)
	cleanup()
	assert.Empty(t, path)

	single := filepath.Join(proj.Root(), "decode.dict")
	require.NoError(t, os.WriteFile(single, []byte("kw1=\"GET\"\n"), 0644))
	path, cleanup, err = d.GrabDict(context.Background(), proj, "decode")
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, single, path)
	assert.FileExists(t, single)

	projecttest.WriteCorpus(t, filepath.Join(proj.Root(), "dicts", "decode"), map[string]string{
		"http.dict":  "# http verbs\nkw1=\"GET\"\nkw2=\"POST\"\n",
		"notes.txt":  "ignored",
		"extra.dict": "\"\\x00\\x01\"\n",
	})
	path, cleanup, err = d.GrabDict(context.Background(), proj, "decode")
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "kw1=\"GET\"\n\"\\x00\\x01\"\nkw2=\"POST\"\n", string(data))

	cleanup()
	assert.NoFileExists(t, path)

	sources, err := d.Sources(context.Background(), proj, "parse")
	require.NoError(t, err)
	assert.Empty(t, sources)
}
