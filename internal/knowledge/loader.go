package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	aggregatePrefix = "all_agents_data_"
	loadConcurrency = 4
)

var dataFilePattern = regexp.MustCompile(`^(.+)_data_(\d{4}-\d{2}-\d{2})\.json$`)

// candidate is one dataset file found on disk.
type candidate struct {
	agent   string
	path    string
	modTime time.Time
}

// agentFromFile returns the agent name encoded in a dataset file name, or ""
// when the name does not follow <agent>_data_<YYYY-MM-DD>.json.
func agentFromFile(name string) string {
	if strings.HasPrefix(name, aggregatePrefix) {
		return ""
	}
	m := dataFilePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// scanDir groups dataset files by agent, newest first.
func scanDir(dir string) (map[string][]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	groups := make(map[string][]candidate)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		agent := agentFromFile(e.Name())
		if agent == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		groups[agent] = append(groups[agent], candidate{
			agent:   agent,
			path:    filepath.Join(dir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	for _, cs := range groups {
		slices.SortFunc(cs, func(a, b candidate) int {
			if c := b.modTime.Compare(a.modTime); c != 0 {
				return c
			}
			return strings.Compare(b.path, a.path)
		})
	}
	return groups, nil
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

// loadResult is the outcome of scanning and parsing a data directory.
type loadResult struct {
	datasets map[string]*Dataset
	newest   map[string]candidate
	failures int
}

// loadDir parses the newest usable file per agent. A file that fails to parse
// is logged and the next older candidate is tried.
func loadDir(ctx context.Context, dir string, now time.Time, logger *slog.Logger) (loadResult, error) {
	groups, err := scanDir(dir)
	if err != nil {
		return loadResult{}, err
	}

	res := loadResult{
		datasets: make(map[string]*Dataset, len(groups)),
		newest:   make(map[string]candidate, len(groups)),
	}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for agent, cs := range groups {
		res.newest[agent] = cs[0]
		g.Go(func() error {
			for _, c := range cs {
				if err := ctx.Err(); err != nil {
					return err
				}
				records, err := readRecords(c.path)
				if err != nil {
					logger.Warn("Dataset file skipped", "agent", agent, "path", c.path, "error", err)
					mu.Lock()
					res.failures++
					mu.Unlock()
					continue
				}
				ds := &Dataset{
					Agent:      agent,
					Records:    records,
					LoadedAt:   now,
					SourcePath: c.path,
					ModTime:    c.modTime,
				}
				mu.Lock()
				res.datasets[agent] = ds
				mu.Unlock()
				logger.Debug("Dataset loaded", "agent", agent, "path", c.path, "records", len(records))
				if !IsKnownAgent(agent) {
					logger.Info("Dataset has no built-in agent, only routed by name", "agent", agent, "path", c.path)
				}
				return nil
			}
			logger.Warn("No readable dataset for agent", "agent", agent, "candidates", len(cs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loadResult{}, err
	}
	return res, nil
}
