package story

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// Content kinds, matching the bundle resource directories.
const (
	ContentScreens = "screens"
	ContentAudio   = "audio"
	ContentActions = "actions"
)

// ContentSet holds optional authored payloads keyed by resource id.
// A nil or missing entry means the bundle emits the {id} placeholder.
type ContentSet struct {
	Screens map[string]map[string]any
	Audio   map[string]map[string]any
	Actions map[string]map[string]any
}

// Lookup returns the authored payload for id in kind, if any.
func (c *ContentSet) Lookup(kind, id string) (map[string]any, bool) {
	if c == nil {
		return nil, false
	}
	var table map[string]map[string]any
	switch kind {
	case ContentScreens:
		table = c.Screens
	case ContentAudio:
		table = c.Audio
	case ContentActions:
		table = c.Actions
	}
	payload, ok := table[id]
	return payload, ok
}

// ContentFile returns the path of kind's authoring file inside dir.
func ContentFile(dir, kind string) string {
	return filepath.Join(dir, kind+".yaml")
}

// LoadContent reads screens.yaml, audio.yaml and actions.yaml from dir.
// Each file is optional; its root must be {<kind>: {<id>: <mapping>}}.
func LoadContent(dir string) (*ContentSet, error) {
	set := &ContentSet{}
	var issues []ValidationIssue
	for _, kind := range []string{ContentScreens, ContentAudio, ContentActions} {
		table, kindIssues, err := loadContentKind(ContentFile(dir, kind), kind)
		if err != nil {
			return nil, err
		}
		issues = append(issues, kindIssues...)
		switch kind {
		case ContentScreens:
			set.Screens = table
		case ContentAudio:
			set.Audio = table
		case ContentActions:
			set.Actions = table
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return set, nil
}

// LoadPalette reads the screen palette file used by sync-screens. Unlike
// LoadContent the file must exist.
func LoadPalette(path string) (map[string]map[string]any, error) {
	docs, err := LoadDocuments(path)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, NewConfigurationError("load palette", path, fmt.Errorf("no YAML document found"))
	}
	table, issues := contentTable(docs[0], ContentScreens)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return table, nil
}

func loadContentKind(path, kind string) (map[string]map[string]any, []ValidationIssue, error) {
	docs, err := LoadOptionalDocuments(path)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr.Issues, nil
		}
		return nil, nil, err
	}
	if len(docs) == 0 {
		return nil, nil, nil
	}
	table, issues := contentTable(docs[0], kind)
	return table, issues, nil
}

func contentTable(doc Document, kind string) (map[string]map[string]any, []ValidationIssue) {
	n := &normalizer{}
	for key := range doc.Data {
		if key != kind {
			n.report(doc.Path, key, "SCHEMA_UNKNOWN_FIELD", "field is not allowed by the schema")
		}
	}

	raw, present := doc.Data[kind]
	if !present || raw == nil {
		n.report(doc.Path, kind, "SCHEMA_REQUIRED", "required field is missing")
		return nil, sortIssues(n.issues)
	}
	entries, ok := asMap(raw)
	if !ok {
		n.report(doc.Path, kind, "SCHEMA_TYPE", "expected mapping, got %s", kindOf(raw))
		return nil, sortIssues(n.issues)
	}

	table := make(map[string]map[string]any, len(entries))
	for id, entry := range entries {
		m, ok := asMap(entry)
		if !ok {
			n.report(doc.Path, kind+"."+id, "CONTENT_ENTRY_INVALID", "content entry must be a mapping")
			continue
		}
		table[id] = normalizeContent(m)
	}
	return table, sortIssues(n.issues)
}

// normalizeContent converts nested yaml mappings to map[string]any so
// the payload is JSON-serializable.
func normalizeContent(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	if m, ok := asMap(v); ok {
		return normalizeContent(m)
	}
	if items, ok := v.([]any); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}

func sortIssues(issues []ValidationIssue) []ValidationIssue {
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return issues
}
