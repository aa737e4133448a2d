package coverage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ledger records which raw profiles are already folded into the merged
// profile, so an interrupted merge is resumed without counting a file twice.
// Build is the key of the build configuration the merged profile belongs to.
type ledger struct {
	Build   string              `msgpack:"build"`
	Merged  map[string]rawStamp `msgpack:"merged"`
	Updated time.Time           `msgpack:"updated"`
}

// rawStamp identifies the content of a raw profile that was merged. A file
// that reuses a merged name with another stamp carries new counters.
type rawStamp struct {
	Size    int64     `msgpack:"size"`
	ModTime time.Time `msgpack:"mtime"`
}

func stampOf(path string) (rawStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return rawStamp{}, err
	}
	return rawStamp{Size: info.Size(), ModTime: info.ModTime().UTC()}, nil
}

func loadLedger(path string) (*ledger, error) {
	l := &ledger{Merged: map[string]rawStamp{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read merge ledger: %w", err)
	}
	if err := msgpack.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("corrupt merge ledger %s: %w", path, err)
	}
	if l.Merged == nil {
		l.Merged = map[string]rawStamp{}
	}
	return l, nil
}

// counted reports whether path is a raw profile the ledger already merged.
func (l *ledger) counted(path string) bool {
	want, ok := l.Merged[filepath.Base(path)]
	if !ok {
		return false
	}
	got, err := stampOf(path)
	return err == nil && got.Size == want.Size && got.ModTime.Equal(want.ModTime)
}

func (l *ledger) reset(build string) {
	l.Build = build
	l.Merged = map[string]rawStamp{}
}

func (l *ledger) record(stamps map[string]rawStamp, at time.Time) {
	for n, s := range stamps {
		l.Merged[n] = s
	}
	l.Updated = at
}

func (l *ledger) save(path string) error {
	data, err := msgpack.Marshal(l)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write merge ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write merge ledger: %w", err)
	}
	return nil
}

func ledgerPath(coverageDir string) string {
	return filepath.Join(coverageDir, "merge-ledger.msgpack")
}
