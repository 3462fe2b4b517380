package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource reads exports from a local directory, for files copied off the
// drop by hand.
type DirSource struct {
	Dir string
}

func (d DirSource) Name() string { return "file" }

func (d DirSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.Dir, filepath.Base(name)))
}
