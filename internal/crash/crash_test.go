package crash

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fuzzrig/internal/project/projecttest"
	"fuzzrig/internal/types"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	seen []types.CrashArtifact
	err  error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(ctx context.Context, artifact types.CrashArtifact) error {
	r.seen = append(r.seen, artifact)
	return r.err
}

func crashInput(p string, kind types.ArtifactKind, data string) types.CrashInput {
	return types.CrashInput{
		Target:     types.FuzzTarget{Name: p},
		Kind:       kind,
		Data:       []byte(data),
		Outcome:    types.Crashed(77, "", "", kind),
		Sanitizers: []types.Sanitizer{types.SanitizerAddress},
	}
}

func TestPersistIsContentAddressed(t *testing.T) {
	proj := projecttest.New(t, "decode")
	notifier := &recordingNotifier{}
	var nilRecorder *BugRecorder
	m := New(proj, zap.NewNop(), notifier, nilRecorder)
	require.Len(t, m.notifiers, 1)

	first, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactCrash, "boom"))
	require.NoError(t, err)
	sum := sha1.Sum([]byte("boom"))
	assert.Equal(t, hex.EncodeToString(sum[:]), first.ID)
	assert.Equal(t, filepath.Join(proj.ArtifactsDir("decode"), "crash-"+first.ID), first.Path)
	assert.Equal(t, first.Path, first.Outcome.ArtifactPath)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "boom", string(data))

	second, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactCrash, "boom"))
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.Len(t, notifier.seen, 1, "known artifacts are not announced again")

	var names []string
	for artifact, err := range m.List("decode") {
		require.NoError(t, err)
		names = append(names, artifact.FileName())
	}
	assert.Equal(t, []string{"crash-" + first.ID}, names)

	// the same bytes reported under another kind are still the same input
	minimized, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactMinimized, "boom"))
	require.NoError(t, err)
	assert.Equal(t, first.Path, minimized.Path)
	assert.Equal(t, types.ArtifactCrash, minimized.Kind)
	assert.NoFileExists(t, filepath.Join(proj.ArtifactsDir("decode"), "minimized-"+first.ID))
	assert.Len(t, notifier.seen, 1)

	names = nil
	for artifact, err := range m.List("decode") {
		require.NoError(t, err)
		names = append(names, artifact.FileName())
	}
	assert.Equal(t, []string{"crash-" + first.ID}, names)
}

type stalledNotifier struct {
	err error
}

func (s *stalledNotifier) Name() string { return "stalled" }

func (s *stalledNotifier) Notify(ctx context.Context, artifact types.CrashArtifact) error {
	<-ctx.Done()
	s.err = ctx.Err()
	return s.err
}

func TestPersistBoundsNotifiers(t *testing.T) {
	proj := projecttest.New(t, "decode")
	stalled := &stalledNotifier{}
	after := &recordingNotifier{}
	m := New(proj, zap.NewNop(), stalled, after)
	m.timeout = 50 * time.Millisecond

	start := time.Now()
	artifact, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactCrash, "boom"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, stalled.err, context.DeadlineExceeded)
	require.Len(t, after.seen, 1, "a stalled notifier does not starve the next one")
	assert.Equal(t, artifact.Path, after.seen[0].Path)

	// a timed out notifier leaves the manager usable
	_, err = m.Persist(context.Background(), crashInput("decode", types.ArtifactCrash, "bang"))
	require.NoError(t, err)
}

func TestPersistNotifierErrorIsNotFatal(t *testing.T) {
	proj := projecttest.New(t, "decode")
	m := New(proj, zap.NewNop(), &recordingNotifier{err: errors.New("queue down")})

	artifact, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactLeak, "leaky"))
	require.NoError(t, err)
	assert.FileExists(t, artifact.Path)
	assert.Equal(t, types.ArtifactLeak, artifact.Kind)
}

func TestListSkipsDotfilesAndUsesMetadata(t *testing.T) {
	proj := projecttest.New(t, "decode")
	m := New(proj, zap.NewNop())
	dir := proj.ArtifactsDir("decode")

	persisted, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactTimeout, "slow"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oom-feed"), []byte("big"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	var got []types.CrashArtifact
	for artifact, err := range m.List("decode") {
		require.NoError(t, err)
		got = append(got, artifact)
	}
	require.Len(t, got, 2)
	assert.Equal(t, types.ArtifactOOM, got[0].Kind)
	assert.Equal(t, "feed", got[0].ID)
	assert.Equal(t, persisted.ID, got[1].ID)
	assert.Equal(t, types.OutcomeCrashed, got[1].Outcome.Kind)
	assert.Equal(t, []types.Sanitizer{types.SanitizerAddress}, got[1].Sanitizers)
}

func TestListMissingDirectory(t *testing.T) {
	proj := projecttest.New(t)
	m := New(proj, zap.NewNop())
	for range m.List("nothing") {
		t.Fatal("expected no artifacts")
	}
}

func TestLookup(t *testing.T) {
	proj := projecttest.New(t, "decode")
	m := New(proj, zap.NewNop())
	a, err := m.Persist(context.Background(), crashInput("decode", types.ArtifactCrash, "one"))
	require.NoError(t, err)

	byName, err := m.Lookup("decode", a.FileName())
	require.NoError(t, err)
	assert.Equal(t, a.Path, byName.Path)

	byPrefix, err := m.Lookup("decode", a.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, a.Path, byPrefix.Path)

	byPath, err := m.Lookup("decode", a.Path)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byPath.ID)

	outside := filepath.Join(t.TempDir(), "leak-input")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))
	ext, err := m.Lookup("decode", outside)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactLeak, ext.Kind)

	_, err = m.Lookup("decode", "zzzz")
	assert.Error(t, err)
}
