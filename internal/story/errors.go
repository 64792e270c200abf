package story

import (
	"fmt"
	"strings"
)

// ValidationIssue is one semantic or schema finding in an input file.
// Code is a stable token for machine consumption.
type ValidationIssue struct {
	File   string `json:"file"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

// String renders the issue in the CLI line format.
func (i ValidationIssue) String() string {
	field := i.Field
	if field == "" {
		field = "<root>"
	}
	return fmt.Sprintf("%s: line=n/a code=%s field=%s: %s", i.File, i.Code, field, i.Reason)
}

// ValidationError carries every issue found in a file set.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "validation failed: " + e.Issues[0].String()
	}
	lines := make([]string, 0, len(e.Issues)+1)
	lines = append(lines, fmt.Sprintf("validation failed with %d issues", len(e.Issues)))
	for _, issue := range e.Issues {
		lines = append(lines, "  "+issue.String())
	}
	return strings.Join(lines, "\n")
}

// ConfigurationError indicates a failed precondition: missing anchor or
// files, unwritable output, archive failure.
type ConfigurationError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(op, path string, err error) *ConfigurationError {
	return &ConfigurationError{Op: op, Path: path, Err: err}
}

// BindingOrigin records where an app binding declaration came from.
type BindingOrigin struct {
	ScenarioID string
	Source     string
	App        AppType
	Config     *LaDetectorConfig
}

func (o BindingOrigin) describe() string {
	cfg := "config=null"
	if o.Config != nil {
		cfg = fmt.Sprintf("config={hold_ms:%d unlock_event:%q require_listening:%t}",
			o.Config.HoldMs, o.Config.UnlockEvent, o.Config.RequireListening)
	}
	return fmt.Sprintf("scenario %s (%s) app=%s %s", o.ScenarioID, o.Source, o.App, cfg)
}

// ConflictError is raised when one binding id is declared with different
// app or config across scenarios.
type ConflictError struct {
	BindingID string
	First     BindingOrigin
	Second    BindingOrigin
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("app binding %q conflict: %s vs %s",
		e.BindingID, e.First.describe(), e.Second.describe())
}
