// Package orchestrator runs the generation stages in order and reports
// their milestones as events. Stages fail fast: an emitter never sees
// input that did not validate.
package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/bundle"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/codegen"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/config"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/events"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/mqtt"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/storage/postgres"
	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// Ledger stores one row per emitting run.
type Ledger interface {
	Record(run postgres.RunRow) error
}

// Announcer tells devices which bundle was deployed.
type Announcer interface {
	Announce(m bundle.Manifest) (mqtt.Announcement, error)
	Topic() string
}

// Pipeline wires the stages to resolved paths and the optional ledger.
type Pipeline struct {
	paths  *config.Paths
	ledger Ledger
	now    func() time.Time
}

func New(paths *config.Paths) *Pipeline {
	return &Pipeline{paths: paths, now: time.Now}
}

// SetLedger enables run recording. nil disables it.
func (p *Pipeline) SetLedger(l Ledger) {
	p.ledger = l
}

// Paths returns the locations the pipeline works on.
func (p *Pipeline) Paths() *config.Paths {
	return p.paths
}

// CPPResult is the outcome of generate-cpp.
type CPPResult struct {
	*story.Result
	Files []string
}

// BundleOptions tunes generate-bundle. Archive is the tarball path, empty
// to skip archiving; Announcer is nil unless announcement was requested.
type BundleOptions struct {
	Archive   string
	Announcer Announcer
}

// BundleResult is the outcome of generate-bundle.
type BundleResult struct {
	*story.Result
	Manifest       bundle.Manifest
	Files          []string
	ArchiveEntries []string
	Announcement   *mqtt.Announcement
}

// AllResult is the outcome of the all command.
type AllResult struct {
	CPP     *CPPResult
	Bundle  *BundleResult
	Screens *bundle.SyncReport
}

// Validate loads, checks and normalizes the specs. It writes nothing, so
// it is not recorded in the ledger.
func (p *Pipeline) Validate() (*story.Result, error) {
	res, err := p.validate()
	if err != nil {
		return nil, p.failed("validate", err)
	}
	events.Emit("debug", "pipeline.completed", "validate completed", map[string]interface{}{
		"command": "validate",
	})
	return res, nil
}

func (p *Pipeline) validate() (*story.Result, error) {
	events.Emit("debug", "pipeline.started", "validating story specs", map[string]interface{}{
		"spec_dir": p.paths.SpecDir,
		"game_dir": p.paths.GameDir,
	})

	res, err := story.Validate(p.paths.SpecDir, p.paths.GameDir, p.paths.GameDirExplicit)
	if err != nil {
		var verr *story.ValidationError
		if errors.As(err, &verr) {
			events.Emit("error", "validation.failed", "story specs have errors", map[string]interface{}{
				"issues": len(verr.Issues),
			})
		}
		return nil, err
	}

	events.Emit("debug", "specs.loaded", "story specs loaded", map[string]interface{}{
		"scenarios": len(res.Scenarios),
		"games":     len(res.Games),
	})
	for i := range res.Scenarios {
		sc := &res.Scenarios[i]
		events.Emit("debug", "scenario.validated", "scenario ok", map[string]interface{}{
			"scenario_id": sc.ID,
			"steps":       len(sc.Steps),
			"transitions": sc.TransitionCount(),
		})
		if unreachable := story.UnreachableSteps(sc); len(unreachable) > 0 {
			events.Emit("warn", "scenario.unreachable_steps", "steps not reachable from initial_step", map[string]interface{}{
				"scenario_id": sc.ID,
				"steps":       unreachable,
			})
		}
	}
	events.Emit("info", "validation.passed", "story specs valid", map[string]interface{}{
		"scenarios": len(res.Scenarios),
		"spec_hash": res.SpecHash,
	})
	return res, nil
}

// GenerateCPP validates then writes the four C++ sources to outDir, or
// to the resolved default when outDir is empty.
func (p *Pipeline) GenerateCPP(outDir string) (*CPPResult, error) {
	mark := events.Mark()
	out, err := p.generateCPP(outDir)
	var res *story.Result
	var files []string
	if out != nil {
		res, files = out.Result, out.Files
	}
	p.record("generate-cpp", mark, res, files, err)
	return out, err
}

func (p *Pipeline) generateCPP(outDir string) (*CPPResult, error) {
	if outDir == "" {
		outDir = p.paths.CppOutDir
	}
	res, err := p.validate()
	if err != nil {
		return nil, p.failed("generate-cpp", err)
	}

	rendered, err := codegen.Render(res.Scenarios, res.SpecHash)
	if err != nil {
		return &CPPResult{Result: res}, p.failed("generate-cpp", err)
	}
	files, err := codegen.Write(outDir, rendered)
	if err != nil {
		return &CPPResult{Result: res}, p.failed("generate-cpp", err)
	}

	events.Emit("info", "cpp.generated", "C++ sources written", map[string]interface{}{
		"out_dir":   outDir,
		"files":     len(files),
		"spec_hash": res.SpecHash,
	})
	return &CPPResult{Result: res, Files: files}, nil
}

// GenerateBundle validates then writes the bundle under root, or under
// the resolved default when root is empty.
func (p *Pipeline) GenerateBundle(root string, opts BundleOptions) (*BundleResult, error) {
	mark := events.Mark()
	out, err := p.generateBundle(root, opts)
	var res *story.Result
	var files []string
	if out != nil {
		res, files = out.Result, out.Files
	}
	p.record("generate-bundle", mark, res, files, err)
	return out, err
}

func (p *Pipeline) generateBundle(root string, opts BundleOptions) (*BundleResult, error) {
	if root == "" {
		root = p.paths.BundleRoot
	}
	res, err := p.validate()
	if err != nil {
		return nil, p.failed("generate-bundle", err)
	}
	out := &BundleResult{Result: res}

	content, err := story.LoadContent(p.paths.ContentDir)
	if err != nil {
		return out, p.failed("generate-bundle", err)
	}

	b, err := bundle.Build(res.Scenarios, res.SpecHash, content)
	if err != nil {
		return out, p.failed("generate-bundle", err)
	}
	files, err := bundle.Write(b, root)
	if err != nil {
		return out, p.failed("generate-bundle", err)
	}
	out.Manifest = b.Manifest
	out.Files = files

	events.Emit("info", "bundle.generated", "bundle written", map[string]interface{}{
		"root":      root,
		"files":     len(files),
		"spec_hash": res.SpecHash,
	})

	if opts.Archive != "" {
		entries, err := bundle.Archive(root, opts.Archive)
		if err != nil {
			return out, p.failed("generate-bundle", err)
		}
		out.ArchiveEntries = entries
		events.Emit("info", "bundle.archived", "bundle archived", map[string]interface{}{
			"archive": opts.Archive,
			"entries": len(entries),
		})
	}

	if opts.Announcer != nil {
		msg, err := opts.Announcer.Announce(b.Manifest)
		if err != nil {
			events.Emit("error", "announce.error", "bundle announcement failed", map[string]interface{}{
				"topic": opts.Announcer.Topic(),
				"error": err.Error(),
			})
			return out, p.failed("generate-bundle", story.NewConfigurationError("announce bundle", opts.Announcer.Topic(), err))
		}
		out.Announcement = &msg
		events.Emit("info", "bundle.announced", "bundle announced", map[string]interface{}{
			"topic":     opts.Announcer.Topic(),
			"spec_hash": msg.SpecHash,
		})
	}
	return out, nil
}

// SyncScreens projects the screen palette into root, or into the resolved
// default when root is empty. check reports drift without writing.
func (p *Pipeline) SyncScreens(root string, check bool) (*bundle.SyncReport, error) {
	mark := events.Mark()
	report, err := p.syncScreens(root, check)
	var files []string
	if report != nil && !check {
		files = report.Written
	}
	p.record("sync-screens", mark, nil, files, err)
	return report, err
}

func (p *Pipeline) syncScreens(root string, check bool) (*bundle.SyncReport, error) {
	if root == "" {
		root = p.paths.BundleRoot
	}
	palette, err := story.LoadPalette(p.paths.ScreenPalette())
	if err != nil {
		return nil, p.failed("sync-screens", err)
	}
	report, err := bundle.SyncScreens(palette, root, check)
	if err != nil {
		return nil, p.failed("sync-screens", err)
	}

	if check && len(report.Drift) > 0 {
		paths := make([]string, 0, len(report.Drift))
		for _, d := range report.Drift {
			paths = append(paths, d.Path)
		}
		events.Emit("warn", "screens.drift", "screen files out of date", map[string]interface{}{
			"files": paths,
		})
		return report, nil
	}
	events.Emit("info", "screens.synced", "screen palette synced", map[string]interface{}{
		"screens": report.Screens,
		"written": len(report.Written),
		"check":   check,
	})
	return report, nil
}

// All runs generate-cpp, generate-bundle and sync-screens in order,
// stopping at the first failure. sync-screens is skipped when no palette
// file exists.
func (p *Pipeline) All(cppOut, bundleRoot string, opts BundleOptions) (*AllResult, error) {
	out := &AllResult{}

	cpp, err := p.GenerateCPP(cppOut)
	out.CPP = cpp
	if err != nil {
		return out, err
	}

	b, err := p.GenerateBundle(bundleRoot, opts)
	out.Bundle = b
	if err != nil {
		return out, err
	}

	if _, err := os.Stat(p.paths.ScreenPalette()); errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	report, err := p.SyncScreens(bundleRoot, false)
	out.Screens = report
	return out, err
}

// DefaultArchivePath is where --archive writes when given no value: next
// to the deploy root so the archive never contains itself.
func (p *Pipeline) DefaultArchivePath(root string) string {
	if root == "" {
		root = p.paths.BundleRoot
	}
	return filepath.Join(filepath.Dir(root), filepath.Base(root)+".tar.gz")
}

func (p *Pipeline) failed(stage string, err error) error {
	events.Emit("error", "pipeline.failed", stage+" failed", map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
	return err
}

// record writes the run to the ledger. Ledger failures are logged and
// never change the outcome of the run.
func (p *Pipeline) record(command string, mark uint64, res *story.Result, artifacts []string, runErr error) {
	if runErr == nil {
		events.Emit("debug", "pipeline.completed", command+" completed", map[string]interface{}{
			"command": command,
		})
	}
	if p.ledger == nil {
		return
	}

	row := postgres.RunRow{
		RunID:     uuid.NewString(),
		Timestamp: p.now().UTC(),
		Command:   command,
		OK:        runErr == nil,
		Artifacts: relativeTo(p.paths.FirmwareRoot, artifacts),
		Events:    eventRows(events.Since(mark)),
	}
	if res != nil {
		row.SpecHash = res.SpecHash
		row.ScenarioCount = len(res.Scenarios)
	}

	if err := p.ledger.Record(row); err != nil {
		events.Emit("warn", "ledger.error", "failed to record run", map[string]interface{}{
			"command": command,
			"error":   err.Error(),
		})
		return
	}
	events.Emit("debug", "ledger.recorded", "run recorded", map[string]interface{}{
		"run_id":  row.RunID,
		"command": command,
	})
}

func eventRows(evts []events.Event) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(evts))
	for _, e := range evts {
		row := map[string]interface{}{
			"ts":    e.Timestamp,
			"level": e.Level,
			"event": e.Name,
		}
		if e.Message != "" {
			row["msg"] = e.Message
		}
		if len(e.Fields) > 0 {
			row["fields"] = e.Fields
		}
		rows = append(rows, row)
	}
	return rows
}

func relativeTo(root string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if rel, err := filepath.Rel(root, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		} else {
			out = append(out, p)
		}
	}
	return out
}

// String describes the pipeline locations, for debug logs.
func (p *Pipeline) String() string {
	return fmt.Sprintf("firmware=%s specs=%s games=%s content=%s cpp=%s bundle=%s",
		p.paths.FirmwareRoot, p.paths.SpecDir, p.paths.GameDir,
		p.paths.ContentDir, p.paths.CppOutDir, p.paths.BundleRoot)
}
