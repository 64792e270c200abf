package story

// Trigger is how a transition fires.
type Trigger string

const (
	TriggerOnEvent   Trigger = "on_event"
	TriggerAfterMs   Trigger = "after_ms"
	TriggerImmediate Trigger = "immediate"
)

// EventType is the kind of event an on_event transition waits for.
type EventType string

const (
	EventNone      EventType = "none"
	EventUnlock    EventType = "unlock"
	EventAudioDone EventType = "audio_done"
	EventTimer     EventType = "timer"
	EventSerial    EventType = "serial"
	EventAction    EventType = "action"
)

// AppType is the on-device app implementation a binding attaches to.
type AppType string

const (
	AppLaDetector  AppType = "LA_DETECTOR"
	AppAudioPack   AppType = "AUDIO_PACK"
	AppScreenScene AppType = "SCREEN_SCENE"
	AppMp3Gate     AppType = "MP3_GATE"
)

var validTriggers = map[Trigger]struct{}{
	TriggerOnEvent:   {},
	TriggerAfterMs:   {},
	TriggerImmediate: {},
}

var validEventTypes = map[EventType]struct{}{
	EventNone:      {},
	EventUnlock:    {},
	EventAudioDone: {},
	EventTimer:     {},
	EventSerial:    {},
	EventAction:    {},
}

var validApps = map[AppType]struct{}{
	AppLaDetector:  {},
	AppAudioPack:   {},
	AppScreenScene: {},
	AppMp3Gate:     {},
}

// LA detector config bounds and defaults.
const (
	LaHoldMsMin               = 100
	LaHoldMsMax               = 60000
	LaHoldMsDefault           = 3000
	LaUnlockEventDefault      = "UNLOCK"
	LaRequireListeningDefault = true

	TransitionPriorityMax = 255
)

// LaDetectorConfig is the only app config the firmware understands.
type LaDetectorConfig struct {
	HoldMs           int    `json:"hold_ms"`
	UnlockEvent      string `json:"unlock_event"`
	RequireListening bool   `json:"require_listening"`
}

// DefaultLaDetectorConfig returns the config materialized for LA_DETECTOR
// bindings that omit it.
func DefaultLaDetectorConfig() *LaDetectorConfig {
	return &LaDetectorConfig{
		HoldMs:           LaHoldMsDefault,
		UnlockEvent:      LaUnlockEventDefault,
		RequireListening: LaRequireListeningDefault,
	}
}

// AppBinding attaches a scenario-local role to an app implementation.
// Config is non-nil only for LA_DETECTOR.
type AppBinding struct {
	ID     string            `json:"id"`
	App    AppType           `json:"app"`
	Config *LaDetectorConfig `json:"config"`
}

// Transition is a directed edge between two steps.
type Transition struct {
	ID           string    `json:"id"`
	Trigger      Trigger   `json:"trigger"`
	EventType    EventType `json:"event_type"`
	EventName    string    `json:"event_name"`
	TargetStepID string    `json:"target_step_id"`
	AfterMs      int64     `json:"after_ms"`
	Priority     int       `json:"priority"`
}

// Step is one node of a scenario state machine.
type Step struct {
	StepID        string       `json:"step_id"`
	ScreenSceneID string       `json:"screen_scene_id"`
	AudioPackID   string       `json:"audio_pack_id"`
	Actions       []string     `json:"actions"`
	Apps          []string     `json:"apps"`
	Mp3GateOpen   bool         `json:"mp3_gate_open"`
	Transitions   []Transition `json:"transitions"`
}

// Scenario is the canonical, fully cross-linked scenario record.
// Source is metadata and is never emitted.
type Scenario struct {
	ID                 string       `json:"id"`
	Version            int64        `json:"version"`
	EstimatedDurationS int64        `json:"estimated_duration_s"`
	InitialStep        string       `json:"initial_step"`
	AppBindings        []AppBinding `json:"app_bindings"`
	Steps              []Step       `json:"steps"`
	Source             string       `json:"-"`
}

// StepIndex returns the position of stepID, or -1.
func (s *Scenario) StepIndex(stepID string) int {
	for i := range s.Steps {
		if s.Steps[i].StepID == stepID {
			return i
		}
	}
	return -1
}

// TransitionCount returns the number of transitions across all steps.
func (s *Scenario) TransitionCount() int {
	n := 0
	for i := range s.Steps {
		n += len(s.Steps[i].Transitions)
	}
	return n
}

// GameScenario is the author-facing game metadata; only ID and StoryScenario
// take part in cross-validation.
type GameScenario struct {
	ID            string
	StoryScenario string
	Source        string
}
