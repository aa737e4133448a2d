package crash

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"fuzzrig/internal/project"
	"fuzzrig/internal/types"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// notifyTimeout bounds each notifier call; persisting never waits on a
// stalled backend for longer.
const notifyTimeout = 10 * time.Second

// Notifier is told about every artifact the first time it is persisted.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, artifact types.CrashArtifact) error
}

// Manager owns the artifact directory of every target of a project. Artifacts
// are named after their content hash, so persisting the same input twice
// yields a single file.
type Manager struct {
	project   *project.Project
	logger    *zap.Logger
	notifiers []Notifier
	timeout   time.Duration

	mu sync.Mutex
}

type ManagerParams struct {
	fx.In

	Project   *project.Project
	Logger    *zap.Logger
	Notifiers []Notifier `group:"crash_notifiers"`
}

func NewManager(p ManagerParams) *Manager {
	return New(p.Project, p.Logger, p.Notifiers...)
}

func New(proj *project.Project, logger *zap.Logger, notifiers ...Notifier) *Manager {
	m := &Manager{
		project: proj,
		logger:  logger.Named("crash"),
		timeout: notifyTimeout,
	}
	for _, n := range notifiers {
		nV := reflect.ValueOf(n)
		if n == nil || (nV.Kind() == reflect.Ptr && nV.IsNil()) {
			continue // skip notifiers whose backend is not configured
		}
		m.notifiers = append(m.notifiers, n)
		m.logger.Debug("crash notifier registered", zap.String("notifier", n.Name()))
	}
	return m
}

// Persist stores a crashing input as <artifacts>/<target>/<kind>-<sha1>.
// Inputs are deduplicated on content alone: an input already stored under
// any kind returns the existing artifact.
func (m *Manager) Persist(ctx context.Context, in types.CrashInput) (types.CrashArtifact, error) {
	kind := in.Kind
	if kind == "" {
		kind = types.ArtifactCrash
	}
	sum := sha1.Sum(in.Data)
	id := hex.EncodeToString(sum[:])

	dir := m.project.ArtifactsDir(in.Target.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.CrashArtifact{}, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	path := filepath.Join(dir, types.ArtifactFileName(kind, id))

	outcome := in.Outcome
	outcome.ArtifactPath = path
	outcome.ArtifactKind = kind
	artifact := types.CrashArtifact{
		Target:     in.Target.Name,
		Kind:       kind,
		ID:         id,
		Path:       path,
		Size:       int64(len(in.Data)),
		Outcome:    outcome,
		CreatedAt:  time.Now().UTC(),
		Sanitizers: in.Sanitizers,
	}

	m.mu.Lock()
	if existing, ok := findByID(dir, id); ok {
		m.mu.Unlock()
		m.logger.Info("artifact already known", zap.String("target", in.Target.Name), zap.String("path", filepath.Join(dir, existing)))
		return m.describe(in.Target.Name, existing)
	}
	if err := writeAtomic(path, in.Data); err != nil {
		m.mu.Unlock()
		return types.CrashArtifact{}, err
	}
	if err := m.writeMeta(artifact); err != nil {
		// the input itself is safe, only the recorded outcome is lost
		m.logger.Warn("failed to write artifact metadata", zap.String("path", path), zap.Error(err))
	}
	m.mu.Unlock()

	m.logger.Info("new artifact persisted",
		zap.String("target", in.Target.Name),
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int("size", len(in.Data)),
	)
	m.notify(ctx, artifact)
	return artifact, nil
}

func (m *Manager) notify(ctx context.Context, artifact types.CrashArtifact) {
	for _, n := range m.notifiers {
		nctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := n.Notify(nctx, artifact)
		cancel()
		if err != nil {
			m.logger.Error("crash notifier failed", zap.String("notifier", n.Name()), zap.Error(err))
		}
	}
}

// findByID returns the file name of the artifact holding content id, whatever
// its kind.
func findByID(dir, id string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, "*-"+id))
	if err != nil {
		return "", false
	}
	for _, match := range matches {
		name := filepath.Base(match)
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() && !strings.HasPrefix(name, ".") {
			return name, true
		}
	}
	return "", false
}

// List lazily enumerates the artifacts of a target in file name order.
// Directories and dotfiles are skipped; a missing artifact directory is empty.
func (m *Manager) List(target string) iter.Seq2[types.CrashArtifact, error] {
	return func(yield func(types.CrashArtifact, error) bool) {
		entries, err := os.ReadDir(m.project.ArtifactsDir(target))
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(types.CrashArtifact{}, fmt.Errorf("failed to read artifacts of %s: %w", target, err))
			return
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			artifact, err := m.describe(target, entry.Name())
			if !yield(artifact, err) {
				return
			}
		}
	}
}

// Lookup resolves an artifact given as a path, a file name in the target's
// artifact directory, or a unique prefix of its content hash.
func (m *Manager) Lookup(target, ref string) (types.CrashArtifact, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		abs, _ := filepath.Abs(ref)
		if filepath.Dir(abs) == m.project.ArtifactsDir(target) {
			return m.describe(target, filepath.Base(abs))
		}
		return types.CrashArtifact{
			Target: target,
			Kind:   types.KindFromFileName(filepath.Base(ref)),
			Path:   ref,
			Size:   info.Size(),
		}, nil
	}

	var matches []types.CrashArtifact
	for artifact, err := range m.List(target) {
		if err != nil {
			return types.CrashArtifact{}, err
		}
		if artifact.FileName() == ref || (ref != "" && strings.HasPrefix(artifact.ID, ref)) {
			matches = append(matches, artifact)
		}
	}
	switch len(matches) {
	case 0:
		return types.CrashArtifact{}, fmt.Errorf("no artifact %q for target %s", ref, target)
	case 1:
		return matches[0], nil
	default:
		return types.CrashArtifact{}, fmt.Errorf("artifact reference %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func (m *Manager) describe(target, name string) (types.CrashArtifact, error) {
	if meta, err := m.readMeta(target, name); err == nil {
		return meta, nil
	}
	path := filepath.Join(m.project.ArtifactsDir(target), name)
	info, err := os.Stat(path)
	if err != nil {
		return types.CrashArtifact{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	kind := types.KindFromFileName(name)
	return types.CrashArtifact{
		Target:    target,
		Kind:      kind,
		ID:        strings.TrimPrefix(name, string(kind)+"-"),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

func (m *Manager) metaPath(target, name string) string {
	return filepath.Join(m.project.MetaDir(target), name+".msgpack")
}

func (m *Manager) readMeta(target, name string) (types.CrashArtifact, error) {
	data, err := os.ReadFile(m.metaPath(target, name))
	if err != nil {
		return types.CrashArtifact{}, err
	}
	var artifact types.CrashArtifact
	if err := msgpack.Unmarshal(data, &artifact); err != nil {
		return types.CrashArtifact{}, fmt.Errorf("corrupt artifact metadata: %w", err)
	}
	return artifact, nil
}

func (m *Manager) writeMeta(artifact types.CrashArtifact) error {
	if err := os.MkdirAll(m.project.MetaDir(artifact.Target), 0755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&artifact)
	if err != nil {
		return err
	}
	return writeAtomic(m.metaPath(artifact.Target, artifact.FileName()), data)
}

// writeAtomic writes through a dotfile in the same directory and renames it
// into place, so readers never observe a partial artifact.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
