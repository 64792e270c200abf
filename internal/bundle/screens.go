package bundle

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// DriftKind classifies a palette file that does not match the deploy root.
type DriftKind string

const (
	DriftMissing DriftKind = "missing"
	DriftChanged DriftKind = "changed"
)

// Drift is one file that sync-screens would write.
type Drift struct {
	Path string
	Kind DriftKind
}

// SyncReport lists what a screen sync wrote or would write.
type SyncReport struct {
	Screens int
	Written []string
	Drift   []Drift
}

// SyncScreens projects every palette entry to story/screens/<id>.json and
// its checksum under root. In check mode nothing is written and the
// report only lists drift.
func SyncScreens(palette map[string]map[string]any, root string, check bool) (*SyncReport, error) {
	files, err := screenFiles(palette)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Screens: len(palette)}
	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		want := files[rel]

		current, err := os.ReadFile(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			report.Drift = append(report.Drift, Drift{Path: rel, Kind: DriftMissing})
		case err != nil:
			return nil, story.NewConfigurationError("read", abs, err)
		case !bytes.Equal(current, want):
			report.Drift = append(report.Drift, Drift{Path: rel, Kind: DriftChanged})
		default:
			continue
		}

		if check {
			continue
		}
		if err := writeFile(abs, want); err != nil {
			return nil, err
		}
		report.Written = append(report.Written, abs)
	}
	return report, nil
}

func screenFiles(palette map[string]map[string]any) (map[string][]byte, error) {
	b := &Bundle{files: make(map[string][]byte)}
	content := &story.ContentSet{Screens: palette}
	for id := range palette {
		if _, err := b.addJSON(ScreensDir, id, ResourcePayload(content, story.ContentScreens, id)); err != nil {
			return nil, err
		}
	}
	return b.files, nil
}
