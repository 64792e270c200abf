package story

import (
	"fmt"
	"sort"
	"strings"
)

// normalizer accumulates issues while folding raw documents into
// canonical scenarios. It keeps going past local errors so a single run
// reports everything wrong with a file set.
type normalizer struct {
	issues []ValidationIssue
	// targets collects every authored target_step_id of the current
	// scenario, dropped transitions included, for the cross-reference pass.
	targets []targetRef
}

type targetRef struct {
	field  string
	target string
}

func (n *normalizer) report(file, field, code, format string, args ...any) {
	n.issues = append(n.issues, ValidationIssue{
		File:   file,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Code:   code,
	})
}

// Normalize folds story spec documents into canonical scenarios sorted by
// id. Scenarios are returned only when no issue was found; otherwise the
// error is a *ValidationError listing every issue in discovery order.
func Normalize(docs []Document) ([]Scenario, error) {
	n := &normalizer{}
	scenarios := make([]Scenario, 0, len(docs))
	for _, doc := range docs {
		if sc, ok := n.scenario(doc); ok {
			scenarios = append(scenarios, sc)
		}
	}

	// Cross-file pass: scenario ids are global.
	seen := make(map[string]string)
	for _, sc := range scenarios {
		if first, dup := seen[sc.ID]; dup {
			n.report(sc.Source, "id", "SCENARIO_ID_DUPLICATE",
				"scenario id %q already declared in %s", sc.ID, first)
			continue
		}
		seen[sc.ID] = sc.Source
	}

	if len(n.issues) > 0 {
		return nil, &ValidationError{Issues: n.issues}
	}

	sort.SliceStable(scenarios, func(i, j int) bool {
		return scenarios[i].ID < scenarios[j].ID
	})
	return scenarios, nil
}

// scenario returns ok=false when the document could not produce a record
// worth cross-checking (no usable id).
func (n *normalizer) scenario(doc Document) (Scenario, bool) {
	file := doc.Path
	raw := doc.Data
	sc := Scenario{Source: file}

	id, ok := identifier(raw["id"])
	if !ok {
		n.report(file, "id", "SCENARIO_ID", "scenario id must be a non-empty string")
	}
	sc.ID = id

	if v, present := raw["version"]; !present {
		n.report(file, "version", "SCENARIO_VERSION", "version is required")
	} else if ver, ok := toInt64(v); !ok || ver < 0 {
		n.report(file, "version", "SCENARIO_VERSION", "version must be a non-negative integer, got %v", v)
	} else {
		sc.Version = ver
	}

	if v, present := raw["estimated_duration_s"]; present && v != nil {
		if d, ok := toInt64(v); !ok || d < 0 {
			n.report(file, "estimated_duration_s", "SCENARIO_DURATION",
				"estimated_duration_s must be a non-negative integer, got %v", v)
		} else {
			sc.EstimatedDurationS = d
		}
	}

	initial, hasInitial := identifier(raw["initial_step"])
	if !hasInitial {
		n.report(file, "initial_step", "SCENARIO_INITIAL_STEP", "initial_step must be a non-empty string")
	}
	sc.InitialStep = initial

	sc.AppBindings = n.bindings(file, raw["app_bindings"])

	bindingIDs := make(map[string]struct{}, len(sc.AppBindings))
	for _, b := range sc.AppBindings {
		bindingIDs[b.ID] = struct{}{}
	}
	n.targets = nil
	sc.Steps = n.steps(file, raw["steps"], bindingIDs)

	// Cross-reference pass.
	stepIDs := make(map[string]struct{}, len(sc.Steps))
	for _, st := range sc.Steps {
		stepIDs[st.StepID] = struct{}{}
	}
	if hasInitial {
		if _, ok := stepIDs[initial]; !ok {
			n.report(file, "initial_step", "SCENARIO_INITIAL_STEP_UNKNOWN",
				"initial_step %q does not match any step_id", initial)
		}
	}
	for _, ref := range n.targets {
		if _, ok := stepIDs[ref.target]; !ok {
			n.report(file, ref.field, "TRANSITION_TARGET_UNKNOWN",
				"target_step_id %q does not match any step_id", ref.target)
		}
	}

	return sc, id != ""
}

func (n *normalizer) bindings(file string, raw any) []AppBinding {
	out := []AppBinding{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		n.report(file, "app_bindings", "APP_BINDINGS_INVALID", "app_bindings must be a sequence")
		return out
	}

	seen := make(map[string]int)
	for i, item := range items {
		field := fmt.Sprintf("app_bindings[%d]", i)
		m, ok := asMap(item)
		if !ok {
			n.report(file, field, "APP_BINDING_INVALID", "app binding must be a mapping")
			continue
		}

		id, idOK := identifier(m["id"])
		if !idOK {
			n.report(file, field+".id", "APP_BINDING_ID", "app binding id must be a non-empty string")
		}

		appRaw, appOK := identifier(m["app"])
		app := AppType(appRaw)
		if !appOK {
			n.report(file, field+".app", "APP_BINDING_APP", "app must be a non-empty string")
		} else if _, known := validApps[app]; !known {
			n.report(file, field+".app", "APP_BINDING_APP_INVALID",
				"app %q is not one of LA_DETECTOR, AUDIO_PACK, SCREEN_SCENE, MP3_GATE", appRaw)
			appOK = false
		}

		if idOK {
			if first, dup := seen[id]; dup {
				n.report(file, field+".id", "APP_BINDING_DUPLICATE",
					"app binding id %q already declared at app_bindings[%d]", id, first)
				continue
			}
			seen[id] = i
		}

		var cfg *LaDetectorConfig
		if app == AppLaDetector {
			cfg = n.laConfig(file, field+".config", m["config"])
		}
		if idOK && appOK {
			out = append(out, AppBinding{ID: id, App: app, Config: cfg})
		}
	}
	return out
}

func (n *normalizer) laConfig(file, field string, raw any) *LaDetectorConfig {
	cfg := DefaultLaDetectorConfig()
	if raw == nil {
		return cfg
	}
	m, ok := asMap(raw)
	if !ok {
		n.report(file, field, "APP_BINDING_CONFIG_INVALID", "LA_DETECTOR config must be a mapping")
		return cfg
	}

	if v, present := m["hold_ms"]; present {
		hold, ok := toInt64(v)
		if !ok || hold < LaHoldMsMin || hold > LaHoldMsMax {
			n.report(file, field+".hold_ms", "LA_CONFIG_HOLD_MS",
				"hold_ms must be an integer in [%d, %d], got %v", LaHoldMsMin, LaHoldMsMax, v)
		} else {
			cfg.HoldMs = int(hold)
		}
	}
	if v, present := m["unlock_event"]; present {
		ev, ok := v.(string)
		if !ok || strings.TrimSpace(ev) == "" {
			n.report(file, field+".unlock_event", "LA_CONFIG_UNLOCK_EVENT", "unlock_event must be a non-empty string")
		} else {
			cfg.UnlockEvent = strings.TrimSpace(ev)
		}
	}
	if v, present := m["require_listening"]; present {
		b, ok := v.(bool)
		if !ok {
			n.report(file, field+".require_listening", "LA_CONFIG_REQUIRE_LISTENING", "require_listening must be a boolean")
		} else {
			cfg.RequireListening = b
		}
	}
	return cfg
}

func (n *normalizer) steps(file string, raw any, bindingIDs map[string]struct{}) []Step {
	out := []Step{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		n.report(file, "steps", "STEPS_INVALID", "steps must be a sequence")
		return out
	}

	seen := make(map[string]int)
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			n.report(file, fmt.Sprintf("steps[%d]", i), "STEP_INVALID", "step must be a mapping")
			continue
		}

		stepID, idOK := identifier(m["step_id"])
		field := fmt.Sprintf("steps[%d]", i)
		keep := idOK
		if !idOK {
			n.report(file, field+".step_id", "STEP_ID", "step_id must be a non-empty string")
		} else if first, dup := seen[stepID]; dup {
			// The body is still checked, addressed by position.
			n.report(file, fmt.Sprintf("steps[%s].step_id", stepID), "STEP_ID_DUPLICATE",
				"step_id %q already declared at steps[%d]", stepID, first)
			keep = false
		} else {
			field = fmt.Sprintf("steps[%s]", stepID)
			seen[stepID] = i
		}

		st := Step{
			StepID:        stepID,
			ScreenSceneID: n.optionalString(file, field+".screen_scene_id", "STEP_SCREEN_SCENE_ID", m["screen_scene_id"]),
			AudioPackID:   n.optionalString(file, field+".audio_pack_id", "STEP_AUDIO_PACK_ID", m["audio_pack_id"]),
			Actions:       n.actions(file, field+".actions", m["actions"]),
			Apps:          n.stepApps(file, field+".apps", m["apps"], bindingIDs),
			Transitions:   n.transitions(file, field+".transitions", stepID, m["transitions"]),
		}
		if v, present := m["mp3_gate_open"]; present && v != nil {
			b, ok := v.(bool)
			if !ok {
				n.report(file, field+".mp3_gate_open", "STEP_MP3_GATE_OPEN", "mp3_gate_open must be a boolean")
			}
			st.Mp3GateOpen = b
		}

		if keep {
			out = append(out, st)
		}
	}
	return out
}

func (n *normalizer) actions(file, field string, raw any) []string {
	out := []string{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		n.report(file, field, "STEP_ACTIONS_INVALID", "actions must be a sequence")
		return out
	}
	for j, item := range items {
		action, ok := identifier(item)
		if !ok {
			n.report(file, fmt.Sprintf("%s[%d]", field, j), "STEP_ACTION_INVALID", "action must be a non-empty string")
			continue
		}
		out = append(out, action)
	}
	return out
}

func (n *normalizer) stepApps(file, field string, raw any, bindingIDs map[string]struct{}) []string {
	out := []string{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		n.report(file, field, "STEP_APPS_INVALID", "apps must be a sequence")
		return out
	}
	for j, item := range items {
		itemField := fmt.Sprintf("%s[%d]", field, j)
		app, ok := identifier(item)
		if !ok {
			n.report(file, itemField, "STEP_APP_INVALID", "app reference must be a non-empty string")
			continue
		}
		if _, known := bindingIDs[app]; !known {
			n.report(file, itemField, "STEP_APP_BINDING_UNKNOWN", "app %q does not match any app_bindings id", app)
			continue
		}
		out = append(out, app)
	}
	return out
}

func (n *normalizer) transitions(file, field, stepID string, raw any) []Transition {
	out := []Transition{}
	if raw == nil {
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		n.report(file, field, "TRANSITIONS_INVALID", "transitions must be a sequence")
		return out
	}

	ids := make(map[string]int, len(items))
	for k, item := range items {
		trField := fmt.Sprintf("%s[%d]", field, k)
		m, ok := asMap(item)
		if !ok {
			n.report(file, trField, "TRANSITION_INVALID", "transition must be a mapping")
			continue
		}

		tr := Transition{
			Trigger:   TriggerOnEvent,
			EventType: EventNone,
		}
		valid := true

		if v, present := m["trigger"]; present && v != nil {
			s, _ := v.(string)
			tr.Trigger = Trigger(strings.TrimSpace(s))
			if _, known := validTriggers[tr.Trigger]; !known {
				n.report(file, trField+".trigger", "TRANSITION_TRIGGER_INVALID",
					"trigger %v is not one of on_event, after_ms, immediate", v)
				valid = false
			}
		}
		if v, present := m["event_type"]; present && v != nil {
			s, _ := v.(string)
			tr.EventType = EventType(strings.TrimSpace(s))
			if _, known := validEventTypes[tr.EventType]; !known {
				n.report(file, trField+".event_type", "TRANSITION_EVENT_TYPE_INVALID",
					"event_type %v is not one of none, unlock, audio_done, timer, serial, action", v)
				valid = false
			}
		}
		// event_name is authored content: casing is preserved as written.
		tr.EventName = n.optionalString(file, trField+".event_name", "TRANSITION_EVENT_NAME", m["event_name"])

		target, ok := identifier(m["target_step_id"])
		if !ok {
			n.report(file, trField+".target_step_id", "TRANSITION_TARGET", "target_step_id must be a non-empty string")
			valid = false
		} else {
			n.targets = append(n.targets, targetRef{field: trField + ".target_step_id", target: target})
		}
		tr.TargetStepID = target

		if v, present := m["after_ms"]; present && v != nil {
			ms, ok := toInt64(v)
			if !ok || ms < 0 {
				n.report(file, trField+".after_ms", "TRANSITION_AFTER_MS", "after_ms must be a non-negative integer, got %v", v)
				valid = false
			}
			tr.AfterMs = ms
		}
		if v, present := m["priority"]; present && v != nil {
			p, ok := toInt64(v)
			if !ok || p < 0 || p > TransitionPriorityMax {
				n.report(file, trField+".priority", "TRANSITION_PRIORITY",
					"priority must be an integer in [0, %d], got %v", TransitionPriorityMax, v)
				valid = false
			}
			tr.Priority = int(p)
		}

		if tr.Trigger == TriggerOnEvent && tr.EventType == EventNone {
			n.report(file, trField+".event_type", "TRANSITION_EVENT_TYPE_NONE",
				"trigger on_event requires an event_type other than none")
			valid = false
		}

		switch v := m["id"].(type) {
		case nil:
		case string:
			tr.ID = strings.TrimSpace(v)
		default:
			n.report(file, trField+".id", "TRANSITION_ID", "transition id must be a string")
			valid = false
		}
		if tr.ID == "" {
			tr.ID = SynthesizeTransitionID(stepID, k+1)
		}
		if first, dup := ids[tr.ID]; dup {
			n.report(file, trField+".id", "TRANSITION_ID_DUPLICATE",
				"transition id %q already used by %s[%d]", tr.ID, field, first)
			valid = false
		} else {
			ids[tr.ID] = k
		}

		if valid {
			out = append(out, tr)
		}
	}
	return out
}

// optionalString accepts null/absent as "" and rejects non-strings.
func (n *normalizer) optionalString(file, field, code string, raw any) string {
	if raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		n.report(file, field, code, "must be a string, got %s", kindOf(raw))
		return ""
	}
	return s
}

// SynthesizeTransitionID builds the id used for transitions authored
// without one. index is 1-based.
func SynthesizeTransitionID(stepID string, index int) string {
	return fmt.Sprintf("TR_%s_%d", stepID, index)
}

func identifier(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// NormalizeGames extracts game scenario ids and cross-checks them against
// each other and against the canonical story scenarios.
func NormalizeGames(docs []Document, scenarios []Scenario) ([]GameScenario, []ValidationIssue) {
	n := &normalizer{}
	storyIDs := make(map[string]struct{}, len(scenarios))
	for _, sc := range scenarios {
		storyIDs[sc.ID] = struct{}{}
	}

	games := make([]GameScenario, 0, len(docs))
	seen := make(map[string]string)
	for _, doc := range docs {
		id, ok := identifier(doc.Data["id"])
		if !ok {
			n.report(doc.Path, "id", "GAME_SCENARIO_ID", "game scenario id must be a non-empty string")
			continue
		}
		if first, dup := seen[id]; dup {
			n.report(doc.Path, "id", "GAME_SCENARIO_ID_DUPLICATE", "game scenario id %q already declared in %s", id, first)
			continue
		}
		seen[id] = doc.Path

		g := GameScenario{ID: id, Source: doc.Path}
		if ref, ok := identifier(doc.Data["story_scenario"]); ok {
			if _, known := storyIDs[ref]; !known {
				n.report(doc.Path, "story_scenario", "GAME_STORY_SCENARIO_UNKNOWN",
					"story_scenario %q does not match any story scenario id", ref)
			}
			g.StoryScenario = ref
		}
		games = append(games, g)
	}

	sort.SliceStable(games, func(i, j int) bool { return games[i].ID < games[j].ID })
	return games, n.issues
}
