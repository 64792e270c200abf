package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// pipeline
	"pipeline.started":   {},
	"pipeline.completed": {},
	"pipeline.failed":    {},

	// validation
	"specs.loaded":               {},
	"validation.passed":          {},
	"validation.failed":          {},
	"scenario.validated":         {},
	"scenario.unreachable_steps": {},

	// emitters
	"cpp.generated":    {},
	"bundle.generated": {},
	"bundle.archived":  {},
	"screens.synced":   {},
	"screens.drift":    {},

	// ledger
	"ledger.recorded": {},
	"ledger.error":    {},

	// announce
	"bundle.announced": {},
	"announce.error":   {},

	// watch
	"watch.started": {},
	"watch.reload":  {},

	// system
	"system.error": {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
