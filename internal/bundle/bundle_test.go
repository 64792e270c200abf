package bundle

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

const testHash = "0123456789ab"

func testScenarios() []story.Scenario {
	return []story.Scenario{{
		ID:          "MIN",
		Version:     1,
		InitialStep: "S1",
		AppBindings: []story.AppBinding{
			{ID: "APP_SCR", App: story.AppScreenScene},
			{ID: "LA", App: story.AppLaDetector, Config: story.DefaultLaDetectorConfig()},
		},
		Steps: []story.Step{
			{
				StepID:        "S1",
				ScreenSceneID: "SCENE_INTRO",
				AudioPackID:   "PACK_1",
				Actions:       []string{"ACTION_A", "ACTION_B"},
				Apps:          []string{"APP_SCR", "LA"},
				Transitions: []story.Transition{{
					ID: "TR_S1_1", Trigger: story.TriggerOnEvent, EventType: story.EventUnlock,
					EventName: "UNLOCK", TargetStepID: "S2",
				}},
			},
			{StepID: "S2", ScreenSceneID: "SCENE_INTRO", Actions: []string{"ACTION_A"}, Apps: []string{}, Transitions: []story.Transition{}},
		},
	}}
}

func build(t *testing.T, content *story.ContentSet) *Bundle {
	t.Helper()
	b, err := Build(testScenarios(), testHash, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b
}

func TestBuildLayout(t *testing.T) {
	b := build(t, nil)

	for _, rel := range []string{
		"story/manifest.json", "story/manifest.sha256",
		"story/scenarios/MIN.json", "story/scenarios/MIN.sha256",
		"story/apps/APP_SCR.json", "story/apps/LA.json",
		"story/screens/SCENE_INTRO.json",
		"story/audio/PACK_1.json",
		"story/actions/ACTION_A.json", "story/actions/ACTION_B.json",
	} {
		if _, ok := b.Content(rel); !ok {
			t.Errorf("missing %s", rel)
		}
	}
	if len(b.Files()) != 16 {
		t.Errorf("expected 8 json files with checksums, got %d entries", len(b.Files()))
	}
}

func TestBuildManifest(t *testing.T) {
	b := build(t, nil)
	m := b.Manifest

	if m.BundleVersion != 1 || m.SpecHash != testHash {
		t.Errorf("unexpected manifest header: %+v", m)
	}
	want := Counts{Scenarios: 1, Apps: 2, Screens: 1, Audio: 1, Actions: 2}
	if m.Counts != want {
		t.Errorf("expected counts %+v, got %+v", want, m.Counts)
	}
	if len(m.Scenarios) != 1 || m.Scenarios[0].Path != "story/scenarios/MIN.json" {
		t.Fatalf("unexpected scenario entries: %+v", m.Scenarios)
	}

	data, _ := b.Content("story/scenarios/MIN.json")
	if m.Scenarios[0].SHA256 != hexSum(data) {
		t.Error("manifest sha256 should match the scenario payload")
	}

	raw, _ := b.Content(ManifestPath)
	if !strings.HasPrefix(string(raw), `{"bundle_version":1,"counts":{`) {
		t.Errorf("manifest should be canonical JSON with sorted keys: %s", raw)
	}
}

func TestBuildPayloads(t *testing.T) {
	b := build(t, nil)

	la, _ := b.Content("story/apps/LA.json")
	if string(la) != `{"app":"LA_DETECTOR","config":{"hold_ms":3000,"require_listening":true,"unlock_event":"UNLOCK"},"id":"LA"}` {
		t.Errorf("unexpected LA payload: %s", la)
	}
	scr, _ := b.Content("story/apps/APP_SCR.json")
	if string(scr) != `{"app":"SCREEN_SCENE","config":null,"id":"APP_SCR"}` {
		t.Errorf("unexpected APP_SCR payload: %s", scr)
	}
	screen, _ := b.Content("story/screens/SCENE_INTRO.json")
	if string(screen) != `{"id":"SCENE_INTRO"}` {
		t.Errorf("expected placeholder payload, got %s", screen)
	}

	var sc map[string]any
	data, _ := b.Content("story/scenarios/MIN.json")
	if err := json.Unmarshal(data, &sc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "version", "estimated_duration_s", "initial_step", "app_bindings", "steps"} {
		if _, ok := sc[key]; !ok {
			t.Errorf("scenario payload missing %s", key)
		}
	}
	if len(sc) != 6 {
		t.Errorf("scenario payload should have exactly 6 keys, got %d", len(sc))
	}
}

func TestBuildUsesAuthoredContent(t *testing.T) {
	content := &story.ContentSet{
		Screens: map[string]map[string]any{
			"SCENE_INTRO": {"title": "Bienvenue", "id": "ignored"},
		},
	}
	b := build(t, content)

	screen, _ := b.Content("story/screens/SCENE_INTRO.json")
	if string(screen) != `{"id":"SCENE_INTRO","title":"Bienvenue"}` {
		t.Errorf("expected authored payload with forced id, got %s", screen)
	}
}

func TestBuildBindingConflict(t *testing.T) {
	scenarios := testScenarios()
	other := scenarios[0]
	other.ID = "OTHER"
	other.AppBindings = []story.AppBinding{{ID: "APP_SCR", App: story.AppMp3Gate}}
	other.Steps = []story.Step{}

	_, err := Build(append(scenarios, other), testHash, nil)
	var conflict *story.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestWriteIntegrityAndWipe(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "story", "scenarios", "OLD.json")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	written, err := Write(build(t, nil), root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale files under the deploy root should be removed")
	}

	var checked int
	for _, path := range written {
		if !strings.HasSuffix(path, ".json") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		sum, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".sha256")
		if err != nil {
			t.Fatalf("missing checksum for %s: %v", path, err)
		}
		if string(sum) != hexSum(data)+"\n" {
			t.Errorf("%s: checksum mismatch", path)
		}
		checked++
	}
	if checked != 8 {
		t.Errorf("expected 8 json files, got %d", checked)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	if _, err := Write(build(t, nil), a); err != nil {
		t.Fatal(err)
	}
	if _, err := Write(build(t, nil), b); err != nil {
		t.Fatal(err)
	}
	for _, rel := range build(t, nil).Files() {
		x, _ := os.ReadFile(filepath.Join(a, filepath.FromSlash(rel)))
		y, _ := os.ReadFile(filepath.Join(b, filepath.FromSlash(rel)))
		if !bytes.Equal(x, y) {
			t.Errorf("%s differs between runs", rel)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"SCENE_INTRO", "SCENE_INTRO"},
		{"a/b", "a_b"},
		{`x:y*z`, "x_y_z"},
		{"..", "_.."},
		{"énigme", "énigme"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestBuildRejectsFilenameCollision(t *testing.T) {
	scenarios := testScenarios()
	scenarios[0].Steps[1].Actions = []string{"a/b", "a:b"}

	_, err := Build(scenarios, testHash, nil)
	var cfgErr *story.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	if _, err := Write(build(t, nil), root); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(root, "bundle.tar.gz")

	names, err := Archive(root, dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 16 {
		t.Errorf("expected 16 entries, got %d", len(names))
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)

	var got []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.ModTime.Unix() != 0 {
			t.Errorf("%s: expected fixed mtime, got %v", hdr.Name, hdr.ModTime)
		}
		got = append(got, hdr.Name)
	}
	if len(got) != len(names) {
		t.Fatalf("expected %d entries in archive, got %d", len(names), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("entries not sorted: %s before %s", got[i-1], got[i])
		}
	}
	for _, name := range got {
		if name == "bundle.tar.gz" {
			t.Error("archive must not contain itself")
		}
	}
}

func TestArchiveFailsWhenPathCannotBeResolved(t *testing.T) {
	root := t.TempDir()
	if _, err := Write(build(t, nil), root); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(root, "bundle.tar.gz")

	absPath = func(string) (string, error) { return "", errors.New("getwd: no such file or directory") }
	defer func() { absPath = filepath.Abs }()

	_, err := Archive(root, dest)
	var cfgErr *story.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("no archive should be written when paths cannot be resolved")
	}
}

func TestArchiveIsReproducible(t *testing.T) {
	root := t.TempDir()
	if _, err := Write(build(t, nil), root); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	a, b := filepath.Join(out, "a.tar.gz"), filepath.Join(out, "b.tar.gz")
	if _, err := Archive(root, a); err != nil {
		t.Fatal(err)
	}
	if _, err := Archive(root, b); err != nil {
		t.Fatal(err)
	}
	x, _ := os.ReadFile(a)
	y, _ := os.ReadFile(b)
	if !bytes.Equal(x, y) {
		t.Error("archives of the same tree should be byte-identical")
	}
}

func TestSyncScreens(t *testing.T) {
	root := t.TempDir()
	palette := map[string]map[string]any{
		"SCENE_A": {"title": "A"},
		"SCENE_B": {"title": "B"},
	}

	report, err := SyncScreens(palette, root, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Drift) != 4 || len(report.Written) != 0 {
		t.Fatalf("check mode should report 4 missing files and write none, got %+v", report)
	}
	if _, err := os.Stat(filepath.Join(root, "story")); !errors.Is(err, os.ErrNotExist) {
		t.Error("check mode must not write")
	}

	report, err = SyncScreens(palette, root, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Written) != 4 {
		t.Errorf("expected 4 files written, got %d", len(report.Written))
	}
	data, err := os.ReadFile(filepath.Join(root, "story", "screens", "SCENE_A.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":"SCENE_A","title":"A"}` {
		t.Errorf("unexpected screen payload: %s", data)
	}

	palette["SCENE_A"]["title"] = "A2"
	report, err = SyncScreens(palette, root, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Drift) != 2 || report.Drift[0].Kind != DriftChanged {
		t.Errorf("expected changed json and checksum for SCENE_A, got %+v", report.Drift)
	}
}

func hexSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
