package minimize

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// mergeRecord is what a merge pass learned about one input.
type mergeRecord struct {
	Path     string
	Size     int64
	Features []uint64
	Started  bool
	Done     bool // FT line seen; started without done means the input crashed
}

func (r mergeRecord) crashed() bool { return r.Started && !r.Done }

// parseControlFile reads a libFuzzer merge control file:
//
//	<number of files>
//	<number of files in the first corpus>
//	<one path per line>
//	STARTED <index> <size>
//	FT <index> <feature>...
//	COV <index> <pc>...
func parseControlFile(r io.Reader) ([]mergeRecord, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	readInt := func(what string) (int, error) {
		if !sc.Scan() {
			return 0, fmt.Errorf("control file truncated before %s", what)
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad %s %q", what, sc.Text())
		}
		return n, nil
	}
	numFiles, err := readInt("file count")
	if err != nil {
		return nil, 0, err
	}
	firstCorpus, err := readInt("first corpus size")
	if err != nil {
		return nil, 0, err
	}
	if firstCorpus > numFiles {
		return nil, 0, fmt.Errorf("first corpus size %d exceeds file count %d", firstCorpus, numFiles)
	}

	records := make([]mergeRecord, numFiles)
	for i := range records {
		if !sc.Scan() {
			return nil, 0, fmt.Errorf("control file lists %d of %d files", i, numFiles)
		}
		records[i].Path = sc.Text()
	}

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(fields[1])
		if err != nil || idx < 0 || idx >= numFiles {
			return nil, 0, fmt.Errorf("bad file index in %q", sc.Text())
		}
		rec := &records[idx]
		switch fields[0] {
		case "STARTED":
			rec.Started = true
			if len(fields) > 2 {
				rec.Size, _ = strconv.ParseInt(fields[2], 10, 64)
			}
		case "FT":
			rec.Done = true
			rec.Features = rec.Features[:0]
			for _, f := range fields[2:] {
				v, err := strconv.ParseUint(f, 10, 64)
				if err != nil {
					return nil, 0, fmt.Errorf("bad feature %q for file %d", f, idx)
				}
				rec.Features = append(rec.Features, v)
			}
		case "COV":
			// covered PCs are not needed for selection
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read control file: %w", err)
	}
	return records, firstCorpus, nil
}
