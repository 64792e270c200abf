// Package bundle writes the filesystem tree of JSON resources deployed to
// the device flash.
//
// Layout under the deploy root:
//
//	story/manifest.json
//	story/scenarios/<id>.json
//	story/apps/<binding-id>.json
//	story/screens/<screen-scene-id>.json
//	story/audio/<audio-pack-id>.json
//	story/actions/<action-id>.json
//
// Every JSON file has a sibling <name>.sha256 holding the hex SHA-256 of
// its bytes followed by a newline.
package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/version"
)

// Version is the manifest bundle_version.
const Version = version.BundleFormat

// Resource directories relative to the deploy root.
const (
	StoryDir     = "story"
	ScenariosDir = "story/scenarios"
	AppsDir      = "story/apps"
	ScreensDir   = "story/screens"
	AudioDir     = "story/audio"
	ActionsDir   = "story/actions"
	ManifestPath = "story/manifest.json"
)

// ManifestScenario is one scenario entry of the manifest.
type ManifestScenario struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Path    string `json:"path"`
	SHA256  string `json:"sha256"`
}

// Counts is the number of resources of each kind in the bundle.
type Counts struct {
	Scenarios int `json:"scenarios"`
	Apps      int `json:"apps"`
	Screens   int `json:"screens"`
	Audio     int `json:"audio"`
	Actions   int `json:"actions"`
}

// Manifest describes a bundle; devices compare SpecHash with the hash
// compiled into their firmware.
type Manifest struct {
	BundleVersion int                `json:"bundle_version"`
	SpecHash      string             `json:"spec_hash"`
	Scenarios     []ManifestScenario `json:"scenarios"`
	Counts        Counts             `json:"counts"`
}

// Bundle holds pre-serialized payloads keyed by slash-separated path
// relative to the deploy root. Building does no I/O.
type Bundle struct {
	Manifest Manifest
	files    map[string][]byte
}

// Files returns the bundle paths in sorted order, checksum files included.
func (b *Bundle) Files() []string {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Content returns the bytes stored at rel.
func (b *Bundle) Content(rel string) ([]byte, bool) {
	data, ok := b.files[rel]
	return data, ok
}

// Build serializes every resource of the canonical scenario set. content
// may be nil; ids without authored content get an {id} placeholder.
func Build(scenarios []story.Scenario, specHash string, content *story.ContentSet) (*Bundle, error) {
	bindings, err := story.AggregateBindings(scenarios)
	if err != nil {
		return nil, err
	}

	b := &Bundle{files: make(map[string][]byte)}
	manifest := Manifest{
		BundleVersion: Version,
		SpecHash:      specHash,
		Scenarios:     make([]ManifestScenario, 0, len(scenarios)),
	}

	screens := make(map[string]struct{})
	audio := make(map[string]struct{})
	actions := make(map[string]struct{})

	for i := range scenarios {
		sc := &scenarios[i]
		rel, err := b.addJSON(ScenariosDir, sc.ID, sc)
		if err != nil {
			return nil, err
		}
		manifest.Scenarios = append(manifest.Scenarios, ManifestScenario{
			ID:      sc.ID,
			Version: sc.Version,
			Path:    rel,
			SHA256:  strings.TrimSpace(string(b.files[ChecksumPath(rel)])),
		})

		for _, st := range sc.Steps {
			if st.ScreenSceneID != "" {
				screens[st.ScreenSceneID] = struct{}{}
			}
			if st.AudioPackID != "" {
				audio[st.AudioPackID] = struct{}{}
			}
			for _, action := range st.Actions {
				actions[action] = struct{}{}
			}
		}
	}

	for _, binding := range bindings {
		if _, err := b.addJSON(AppsDir, binding.ID, binding); err != nil {
			return nil, err
		}
	}

	for _, res := range []struct {
		dir  string
		kind string
		ids  map[string]struct{}
	}{
		{ScreensDir, story.ContentScreens, screens},
		{AudioDir, story.ContentAudio, audio},
		{ActionsDir, story.ContentActions, actions},
	} {
		for _, id := range sortedKeys(res.ids) {
			if _, err := b.addJSON(res.dir, id, ResourcePayload(content, res.kind, id)); err != nil {
				return nil, err
			}
		}
	}

	manifest.Counts = Counts{
		Scenarios: len(scenarios),
		Apps:      len(bindings),
		Screens:   len(screens),
		Audio:     len(audio),
		Actions:   len(actions),
	}
	if err := b.putJSON(ManifestPath, manifest); err != nil {
		return nil, err
	}
	b.Manifest = manifest
	return b, nil
}

// ResourcePayload returns the authored payload for id with "id" forced,
// or the {id} placeholder.
func ResourcePayload(content *story.ContentSet, kind, id string) map[string]any {
	payload := map[string]any{}
	if authored, ok := content.Lookup(kind, id); ok {
		for k, v := range authored {
			payload[k] = v
		}
	}
	payload["id"] = id
	return payload
}

func (b *Bundle) addJSON(dir, id string, v any) (string, error) {
	rel := path.Join(dir, SanitizeFilename(id)+".json")
	if _, clash := b.files[rel]; clash {
		return "", story.NewConfigurationError("build bundle", rel,
			fmt.Errorf("resource id %q collides with another id after filename sanitization", id))
	}
	return rel, b.putJSON(rel, v)
}

func (b *Bundle) putJSON(rel string, v any) error {
	data, err := story.CanonicalJSON(v)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", rel, err)
	}
	b.files[rel] = data
	b.files[ChecksumPath(rel)] = checksumLine(data)
	return nil
}

// ChecksumPath returns the .sha256 sibling of a JSON path.
func ChecksumPath(jsonPath string) string {
	return strings.TrimSuffix(jsonPath, ".json") + ".sha256"
}

func checksumLine(data []byte) []byte {
	return []byte(story.SHA256Hex(data) + "\n")
}

// Write clears the regular files under root, then writes the bundle in
// sorted path order. Returns the written absolute paths.
func Write(b *Bundle, root string) ([]string, error) {
	if err := ClearFiles(root); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(b.files))
	for _, rel := range b.Files() {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := writeFile(abs, b.files[rel]); err != nil {
			return nil, err
		}
		written = append(written, abs)
	}
	return written, nil
}

// ClearFiles removes every regular file under root, leaving directories.
// A missing root is not an error.
func ClearFiles(root string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			return os.Remove(p)
		}
		return nil
	})
	if err != nil {
		return story.NewConfigurationError("clear deploy root", root, err)
	}
	return nil
}

func writeFile(abs string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return story.NewConfigurationError("create dir", filepath.Dir(abs), err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return story.NewConfigurationError("write", abs, err)
	}
	return nil
}

// SanitizeFilename replaces characters that are unsafe in file names.
func SanitizeFilename(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, ".") == "" {
		return "_" + out
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
