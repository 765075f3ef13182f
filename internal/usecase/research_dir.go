package usecase

import (
	"path"
	"sort"
	"strings"
	"time"

	"idea-explorer/internal/domain/ports/adapter"
)

const (
	researchFile = "research.md"
	logFile      = "exploration-log.json"
	dateLayout   = "2006-01-02"
)

// ResearchDir is the directory for a new run: <prefix>/<YYYY-MM-DD>-<slug>.
func ResearchDir(prefix string, created time.Time, slug string) string {
	return path.Join(prefix, created.UTC().Format(dateLayout)+"-"+slug)
}

func ResearchPath(dir string) string { return path.Join(dir, researchFile) }

func ExplorationLogPath(dir string) string { return path.Join(dir, logFile) }

// SelectResearchDir picks the directory that an update should extend: one
// named exactly slug or ending in "-"+slug. A later date prefix wins; ties
// and undated names fall back to reverse lexicographic order.
func SelectResearchDir(entries []adapter.DirectoryEntry, slug string) (adapter.DirectoryEntry, bool) {
	var matches []adapter.DirectoryEntry
	for _, e := range entries {
		if e.Type != adapter.EntryDir {
			continue
		}
		if e.Name == slug || strings.HasSuffix(e.Name, "-"+slug) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return adapter.DirectoryEntry{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		di, iok := datePrefix(matches[i].Name)
		dj, jok := datePrefix(matches[j].Name)
		if iok != jok {
			return iok
		}
		if iok && !di.Equal(dj) {
			return di.After(dj)
		}
		return matches[i].Name > matches[j].Name
	})
	return matches[0], true
}

func datePrefix(name string) (time.Time, bool) {
	if len(name) < len(dateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, name[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
