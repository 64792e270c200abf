package codegen

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

const testHash = "0123456789ab"

func minimalScenario() story.Scenario {
	return story.Scenario{
		ID:          "MIN",
		Version:     1,
		InitialStep: "S1",
		AppBindings: []story.AppBinding{{ID: "APP_SCR", App: story.AppScreenScene}},
		Steps: []story.Step{
			{
				StepID:        "S1",
				ScreenSceneID: "SCENE_INTRO",
				Actions:       []string{},
				Apps:          []string{"APP_SCR"},
				Transitions: []story.Transition{{
					ID:           "TR_S1_1",
					Trigger:      story.TriggerOnEvent,
					EventType:    story.EventUnlock,
					EventName:    "UNLOCK",
					TargetStepID: "S2",
				}},
			},
			{StepID: "S2", Actions: []string{}, Apps: []string{}, Transitions: []story.Transition{}},
		},
	}
}

func render(t *testing.T, scenarios ...story.Scenario) map[string]string {
	t.Helper()
	files, err := Render(scenarios, testHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := make(map[string]string, len(files))
	for name, data := range files {
		out[name] = string(data)
	}
	return out
}

func TestRenderProducesFourFiles(t *testing.T) {
	files := render(t, minimalScenario())
	for _, name := range []string{ScenariosHeader, ScenariosSource, AppsHeader, AppsSource} {
		content, ok := files[name]
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if !strings.HasPrefix(content, "// AUTO-GENERATED FILE - DO NOT EDIT.") {
			t.Errorf("%s: missing banner", name)
		}
		if !strings.Contains(content, "spec_hash: "+testHash) || !strings.Contains(content, "scenarios: 1") {
			t.Errorf("%s: banner should carry spec hash and count", name)
		}
	}
	if len(files) != 4 {
		t.Errorf("expected 4 files, got %d", len(files))
	}
}

func TestRenderScenarioTables(t *testing.T) {
	src := render(t, minimalScenario())[ScenariosSource]

	for _, want := range []string{
		`static constexpr const char* kSpecHash = "0123456789ab";`,
		`static constexpr const char* kSc0St0Apps[] = {"APP_SCR"};`,
		`{"TR_S1_1", StoryTransitionTrigger::kOnEvent, StoryEventType::kUnlock, "UNLOCK", 0U, "S2", 0U},`,
		`{"S1", {"SCENE_INTRO", nullptr, nullptr, 0U, kSc0St0Apps, 1U}, kSc0St0Transitions, 1U, false},`,
		`{"S2", {nullptr, nullptr, nullptr, 0U, nullptr, 0U}, nullptr, 0U, false},`,
		`static constexpr ScenarioDef kSc0_MIN = {"MIN", 1U, kSc0Steps, 2U, "S1"};`,
		`    &kSc0_MIN,`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("scenarios source missing %q", want)
		}
	}
	if strings.Contains(src, "kSc0St0Actions") || strings.Contains(src, "kSc0St1Transitions") {
		t.Error("empty arrays must be emitted as nullptr")
	}
}

func TestRenderLaDetectorConfig(t *testing.T) {
	sc := minimalScenario()
	sc.AppBindings = append(sc.AppBindings, story.AppBinding{
		ID: "LA", App: story.AppLaDetector, Config: story.DefaultLaDetectorConfig(),
	})
	src := render(t, sc)[AppsSource]

	for _, want := range []string{
		`    {"APP_SCR", StoryAppType::kScreenScene},`,
		`    {"LA", StoryAppType::kLaDetector},`,
		`    {"LA", {true, 3000U, "UNLOCK", true}},`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("apps source missing %q", want)
		}
	}
	if strings.Index(src, `{"APP_SCR", StoryAppType`) > strings.Index(src, `{"LA", StoryAppType`) {
		t.Error("bindings should be sorted by id")
	}
}

func TestRenderEmptySet(t *testing.T) {
	files := render(t)
	if !strings.Contains(files[ScenariosSource], "kScenarios = nullptr;") {
		t.Error("empty scenario set should emit a nullptr table")
	}
	if !strings.Contains(files[AppsSource], "kGeneratedAppBindings = nullptr;") {
		t.Error("empty binding set should emit a nullptr table")
	}
}

func TestRenderBindingConflict(t *testing.T) {
	a := story.Scenario{ID: "A", Source: "a.yaml", AppBindings: []story.AppBinding{{ID: "X", App: story.AppAudioPack}}}
	b := story.Scenario{ID: "B", Source: "b.yaml", AppBindings: []story.AppBinding{{ID: "X", App: story.AppScreenScene}}}

	_, err := Render([]story.Scenario{a, b}, testHash)
	var conflict *story.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "AUDIO_PACK") || !strings.Contains(msg, "SCREEN_SCENE") {
		t.Errorf("conflict should name both apps: %s", msg)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	scenarios := []story.Scenario{minimalScenario()}

	first, err := Render(scenarios, testHash)
	if err != nil {
		t.Fatal(err)
	}
	paths, err := Write(dir, first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshot := map[string][]byte{}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		snapshot[filepath.Base(p)] = data
	}

	second, err := Render(scenarios, testHash)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Write(dir, second); err != nil {
		t.Fatal(err)
	}
	for name, want := range snapshot {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s changed between identical runs", name)
		}
	}
	if filepath.Base(paths[0]) != AppsSource {
		t.Errorf("expected sorted write order, first was %s", paths[0])
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct{ in, want string }{
		{"MIN", "MIN"},
		{"zacus-v2", "zacus_v2"},
		{"1st", "_1st"},
		{"énigme", "_nigme"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.in); got != tt.want {
			t.Errorf("SanitizeIdentifier(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestCString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "nullptr"},
		{"plain", `"plain"`},
		{`say "hi"`, `"say \"hi\""`},
		{`a\b`, `"a\\b"`},
		{"two\nlines", `"two\nlines"`},
	}
	for _, tt := range tests {
		if got := cString(tt.in); got != tt.want {
			t.Errorf("cString(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
