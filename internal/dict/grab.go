package dict

import (
	"context"
	"fmt"
	"fuzzrig/internal/project"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DictRedisKey = "fuzzrig:dicts:%s:%s" // fuzzrig:dicts:<project>:<target>

type DictGrabber struct {
	logger      *zap.Logger
	redisClient *redis.Client
}

type DictGrabberParams struct {
	fx.In

	Logger      *zap.Logger
	RedisClient *redis.Client `optional:"true"`
}

func NewDictGrabber(params DictGrabberParams) *DictGrabber {
	return &DictGrabber{
		params.Logger.Named("dict"),
		params.RedisClient,
	}
}

// Sources lists the dictionaries of a target: <root>/<target>.dict, every
// dicts/<target>/*.dict, then the paths registered in redis when configured.
func (d *DictGrabber) Sources(ctx context.Context, proj *project.Project, target string) ([]string, error) {
	var paths []string
	if single := filepath.Join(proj.Root(), target+".dict"); isFile(single) {
		paths = append(paths, single)
	}
	matches, err := filepath.Glob(filepath.Join(proj.Root(), "dicts", target, "*.dict"))
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	paths = append(paths, matches...)

	if d.redisClient != nil {
		key := fmt.Sprintf(DictRedisKey, proj.Name(), target)
		registered, err := d.redisClient.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get dict set from redis: %w", err)
		}
		slices.Sort(registered)
		for _, p := range registered {
			if !slices.Contains(paths, p) {
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}

// GrabDict returns the dictionary to pass to the engine, or "" when the
// target has none. A single source is used as is; several sources are merged
// into a temporary file which the returned cleanup removes.
func (d *DictGrabber) GrabDict(ctx context.Context, proj *project.Project, target string) (string, func(), error) {
	noop := func() {}
	dictPaths, err := d.Sources(ctx, proj, target)
	if err != nil {
		return "", noop, err
	}
	switch len(dictPaths) {
	case 0:
		return "", noop, nil
	case 1:
		return dictPaths[0], noop, nil
	}

	d.logger.Info("merging dictionaries",
		zap.String("target", target),
		zap.Int("numDicts", len(dictPaths)))

	var mergedLines []string
	for _, path := range dictPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", noop, fmt.Errorf("failed to read dict file %s: %w", path, err)
		}
		lines := strings.Split(string(content), "\n")
		mergedLines = append(mergedLines, lines...)
	}

	// Deduplicate and write to a temporary merged dict file
	lineSet := make(map[string]struct{})
	var finalLines []string
	for _, line := range mergedLines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := lineSet[line]; !ok {
			lineSet[line] = struct{}{}
			finalLines = append(finalLines, line)
		}
	}

	tmpFile, err := os.CreateTemp("", "merged_dict_*.dict")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp dict file: %w", err)
	}
	defer tmpFile.Close()
	cleanup := func() { os.Remove(tmpFile.Name()) }

	_, err = tmpFile.WriteString(strings.Join(finalLines, "\n") + "\n")
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to write merged dict file: %w", err)
	}

	return tmpFile.Name(), cleanup, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
