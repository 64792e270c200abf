// Package codegen renders the canonical scenario set into the C++ tables
// compiled into the firmware.
//
// Output files:
//
//	scenarios_gen.h / scenarios_gen.cpp  - ScenarioDef tables and lookups
//	apps_gen.h / apps_gen.cpp            - deduplicated AppBindingDef table
//	                                       and LA detector configs
//
// Rendering is a pure function of the scenarios and the spec hash; writing
// is a separate step so both can be tested in isolation.
package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// Generated file names.
const (
	ScenariosHeader = "scenarios_gen.h"
	ScenariosSource = "scenarios_gen.cpp"
	AppsHeader      = "apps_gen.h"
	AppsSource      = "apps_gen.cpp"
)

// DefsInclude is the firmware header declaring the record layouts.
const DefsInclude = "core/scenario_def.h"

var triggerTokens = map[story.Trigger]string{
	story.TriggerOnEvent:   "StoryTransitionTrigger::kOnEvent",
	story.TriggerAfterMs:   "StoryTransitionTrigger::kAfterMs",
	story.TriggerImmediate: "StoryTransitionTrigger::kImmediate",
}

var eventTokens = map[story.EventType]string{
	story.EventNone:      "StoryEventType::kNone",
	story.EventUnlock:    "StoryEventType::kUnlock",
	story.EventAudioDone: "StoryEventType::kAudioDone",
	story.EventTimer:     "StoryEventType::kTimer",
	story.EventSerial:    "StoryEventType::kSerial",
	story.EventAction:    "StoryEventType::kAction",
}

var appTokens = map[story.AppType]string{
	story.AppLaDetector:  "StoryAppType::kLaDetector",
	story.AppAudioPack:   "StoryAppType::kAudioPack",
	story.AppScreenScene: "StoryAppType::kScreenScene",
	story.AppMp3Gate:     "StoryAppType::kMp3Gate",
}

// Render builds the four C++ artifacts keyed by file name. It fails with
// a *story.ConflictError when bindings disagree across scenarios.
func Render(scenarios []story.Scenario, specHash string) (map[string][]byte, error) {
	bindings, err := story.AggregateBindings(scenarios)
	if err != nil {
		return nil, err
	}

	count := len(scenarios)
	return map[string][]byte{
		ScenariosHeader: []byte(renderScenariosHeader(specHash, count)),
		ScenariosSource: []byte(renderScenariosSource(scenarios, specHash)),
		AppsHeader:      []byte(renderAppsHeader(specHash, count)),
		AppsSource:      []byte(renderAppsSource(bindings, specHash, count)),
	}, nil
}

// Write writes rendered files into outDir in sorted name order and returns
// the written paths.
func Write(outDir string, files map[string][]byte) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, story.NewConfigurationError("create output dir", outDir, err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return nil, story.NewConfigurationError("write", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func banner(b *strings.Builder, specHash string, count int) {
	b.WriteString("// AUTO-GENERATED FILE - DO NOT EDIT.\n")
	b.WriteString("// Generated by storygen from the story specs.\n")
	fmt.Fprintf(b, "// spec_hash: %s\n", specHash)
	fmt.Fprintf(b, "// scenarios: %d\n\n", count)
}

func renderScenariosHeader(specHash string, count int) string {
	var b strings.Builder
	banner(&b, specHash, count)
	b.WriteString("#pragma once\n\n")
	b.WriteString("#include <cstddef>\n\n")
	fmt.Fprintf(&b, "#include %q\n\n", DefsInclude)
	b.WriteString("const ScenarioDef* generatedScenarioById(const char* id);\n")
	b.WriteString("const ScenarioDef* generatedScenarioDefault();\n")
	b.WriteString("size_t generatedScenarioCount();\n")
	b.WriteString("const char* generatedScenarioIdAt(size_t index);\n")
	b.WriteString("const char* generatedScenarioSpecHash();\n")
	return b.String()
}

func renderScenariosSource(scenarios []story.Scenario, specHash string) string {
	var b strings.Builder
	banner(&b, specHash, len(scenarios))
	fmt.Fprintf(&b, "#include %q\n\n", ScenariosHeader)
	b.WriteString("#include <cstring>\n\n")
	fmt.Fprintf(&b, "static constexpr const char* kSpecHash = %s;\n\n", cString(specHash))

	scenarioSymbols := make([]string, 0, len(scenarios))
	for si := range scenarios {
		scenarioSymbols = append(scenarioSymbols, renderScenario(&b, si, &scenarios[si]))
	}

	if len(scenarioSymbols) == 0 {
		b.WriteString("static constexpr const ScenarioDef* const* kScenarios = nullptr;\n")
		b.WriteString("static constexpr size_t kScenarioCount = 0U;\n\n")
	} else {
		b.WriteString("static constexpr const ScenarioDef* kScenarios[] = {\n")
		for _, sym := range scenarioSymbols {
			fmt.Fprintf(&b, "    &%s,\n", sym)
		}
		b.WriteString("};\n")
		b.WriteString("static constexpr size_t kScenarioCount = sizeof(kScenarios) / sizeof(kScenarios[0]);\n\n")
	}

	b.WriteString(`const ScenarioDef* generatedScenarioById(const char* id) {
  if (id == nullptr || id[0] == '\0') {
    return nullptr;
  }
  for (size_t i = 0U; i < kScenarioCount; ++i) {
    if (std::strcmp(kScenarios[i]->id, id) == 0) {
      return kScenarios[i];
    }
  }
  return nullptr;
}

const ScenarioDef* generatedScenarioDefault() {
  if (kScenarioCount == 0U) {
    return nullptr;
  }
  return kScenarios[0];
}

size_t generatedScenarioCount() {
  return kScenarioCount;
}

const char* generatedScenarioIdAt(size_t index) {
  if (index >= kScenarioCount) {
    return nullptr;
  }
  return kScenarios[index]->id;
}

const char* generatedScenarioSpecHash() {
  return kSpecHash;
}
`)
	return b.String()
}

// renderScenario writes the nested arrays, step array and scenario
// constant for scenario si and returns the scenario symbol.
func renderScenario(b *strings.Builder, si int, sc *story.Scenario) string {
	fmt.Fprintf(b, "// Scenario %d: %s\n", si, cString(sc.ID))

	stepInits := make([]string, 0, len(sc.Steps))
	for sti := range sc.Steps {
		st := &sc.Steps[sti]
		prefix := fmt.Sprintf("kSc%dSt%d", si, sti)

		actionsPtr := "nullptr"
		if len(st.Actions) > 0 {
			actionsPtr = prefix + "Actions"
			fmt.Fprintf(b, "static constexpr const char* %s[] = {%s};\n", actionsPtr, joinCStrings(st.Actions))
		}
		appsPtr := "nullptr"
		if len(st.Apps) > 0 {
			appsPtr = prefix + "Apps"
			fmt.Fprintf(b, "static constexpr const char* %s[] = {%s};\n", appsPtr, joinCStrings(st.Apps))
		}
		transitionsPtr := "nullptr"
		if len(st.Transitions) > 0 {
			transitionsPtr = prefix + "Transitions"
			fmt.Fprintf(b, "static constexpr TransitionDef %s[] = {\n", transitionsPtr)
			for _, tr := range st.Transitions {
				fmt.Fprintf(b, "    {%s, %s, %s, %s, %dU, %s, %dU},\n",
					cString(tr.ID), triggerTokens[tr.Trigger], eventTokens[tr.EventType],
					cString(tr.EventName), tr.AfterMs, cString(tr.TargetStepID), tr.Priority)
			}
			b.WriteString("};\n")
		}

		stepInits = append(stepInits, fmt.Sprintf("{%s, {%s, %s, %s, %dU, %s, %dU}, %s, %dU, %t}",
			cString(st.StepID), cString(st.ScreenSceneID), cString(st.AudioPackID),
			actionsPtr, len(st.Actions), appsPtr, len(st.Apps),
			transitionsPtr, len(st.Transitions), st.Mp3GateOpen))
	}

	stepsPtr := "nullptr"
	if len(stepInits) > 0 {
		stepsPtr = fmt.Sprintf("kSc%dSteps", si)
		fmt.Fprintf(b, "static constexpr StepDef %s[] = {\n", stepsPtr)
		for _, init := range stepInits {
			fmt.Fprintf(b, "    %s,\n", init)
		}
		b.WriteString("};\n")
	}

	symbol := fmt.Sprintf("kSc%d_%s", si, SanitizeIdentifier(sc.ID))
	fmt.Fprintf(b, "static constexpr ScenarioDef %s = {%s, %dU, %s, %dU, %s};\n\n",
		symbol, cString(sc.ID), sc.Version, stepsPtr, len(sc.Steps), cString(sc.InitialStep))
	return symbol
}

func renderAppsHeader(specHash string, count int) string {
	var b strings.Builder
	banner(&b, specHash, count)
	b.WriteString("#pragma once\n\n")
	b.WriteString("#include <cstddef>\n\n")
	fmt.Fprintf(&b, "#include %q\n\n", DefsInclude)
	b.WriteString("const AppBindingDef* generatedAppBindingById(const char* id);\n")
	b.WriteString("size_t generatedAppBindingCount();\n")
	b.WriteString("const char* generatedAppBindingIdAt(size_t index);\n")
	b.WriteString("const LaDetectorAppConfigDef* generatedLaDetectorConfigByBindingId(const char* id);\n")
	return b.String()
}

func renderAppsSource(bindings []story.AppBinding, specHash string, count int) string {
	var b strings.Builder
	banner(&b, specHash, count)
	fmt.Fprintf(&b, "#include %q\n\n", AppsHeader)
	b.WriteString("#include <cstring>\n\n")

	if len(bindings) == 0 {
		b.WriteString("static constexpr const AppBindingDef* kGeneratedAppBindings = nullptr;\n")
		b.WriteString("static constexpr size_t kGeneratedAppBindingCount = 0U;\n\n")
	} else {
		b.WriteString("static constexpr AppBindingDef kGeneratedAppBindings[] = {\n")
		for _, binding := range bindings {
			fmt.Fprintf(&b, "    {%s, %s},\n", cString(binding.ID), appTokens[binding.App])
		}
		b.WriteString("};\n")
		b.WriteString("static constexpr size_t kGeneratedAppBindingCount =\n")
		b.WriteString("    sizeof(kGeneratedAppBindings) / sizeof(kGeneratedAppBindings[0]);\n\n")
	}

	b.WriteString("struct GeneratedLaConfigEntry {\n")
	b.WriteString("  const char* bindingId;\n")
	b.WriteString("  LaDetectorAppConfigDef config;  // {hasConfig, holdMs, unlockEvent, requireListening}\n")
	b.WriteString("};\n\n")

	var laInits []string
	for _, binding := range bindings {
		if binding.App != story.AppLaDetector || binding.Config == nil {
			continue
		}
		laInits = append(laInits, fmt.Sprintf("{%s, {true, %dU, %s, %t}}",
			cString(binding.ID), binding.Config.HoldMs, cString(binding.Config.UnlockEvent), binding.Config.RequireListening))
	}
	if len(laInits) == 0 {
		b.WriteString("static constexpr const GeneratedLaConfigEntry* kGeneratedLaConfigs = nullptr;\n")
		b.WriteString("static constexpr size_t kGeneratedLaConfigCount = 0U;\n\n")
	} else {
		b.WriteString("static constexpr GeneratedLaConfigEntry kGeneratedLaConfigs[] = {\n")
		for _, init := range laInits {
			fmt.Fprintf(&b, "    %s,\n", init)
		}
		b.WriteString("};\n")
		b.WriteString("static constexpr size_t kGeneratedLaConfigCount =\n")
		b.WriteString("    sizeof(kGeneratedLaConfigs) / sizeof(kGeneratedLaConfigs[0]);\n\n")
	}

	b.WriteString(`const AppBindingDef* generatedAppBindingById(const char* id) {
  if (id == nullptr || id[0] == '\0') {
    return nullptr;
  }
  for (size_t i = 0U; i < kGeneratedAppBindingCount; ++i) {
    if (std::strcmp(kGeneratedAppBindings[i].id, id) == 0) {
      return &kGeneratedAppBindings[i];
    }
  }
  return nullptr;
}

size_t generatedAppBindingCount() {
  return kGeneratedAppBindingCount;
}

const char* generatedAppBindingIdAt(size_t index) {
  if (index >= kGeneratedAppBindingCount) {
    return nullptr;
  }
  return kGeneratedAppBindings[index].id;
}

const LaDetectorAppConfigDef* generatedLaDetectorConfigByBindingId(const char* id) {
  if (id == nullptr || id[0] == '\0') {
    return nullptr;
  }
  for (size_t i = 0U; i < kGeneratedLaConfigCount; ++i) {
    if (std::strcmp(kGeneratedLaConfigs[i].bindingId, id) == 0) {
      return &kGeneratedLaConfigs[i].config;
    }
  }
  return nullptr;
}
`)
	return b.String()
}

// cString renders s as a C string literal; the empty string is nullptr.
func cString(s string) string {
	if s == "" {
		return "nullptr"
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func joinCStrings(items []string) string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = cString(item)
	}
	return strings.Join(out, ", ")
}

// SanitizeIdentifier maps s onto [A-Za-z0-9_]+ for use in a C++ symbol.
// Each other rune becomes "_"; a leading digit gets a "_" prefix.
func SanitizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
