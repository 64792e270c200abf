package story

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the YAML value type a schema node accepts.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindInteger
	KindBoolean
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "any"
	}
}

// Field is one named key of a mapping schema.
type Field struct {
	Name     string
	Required bool
	Schema   *Schema
}

// Schema declares the shape of a YAML value. Mappings are strict: keys not
// listed in Fields are errors.
type Schema struct {
	Kind     Kind
	Nullable bool
	Fields   []Field
	Items    *Schema
	Enum     []string
}

func scalar(k Kind) *Schema { return &Schema{Kind: k} }

func nullable(s *Schema) *Schema {
	c := *s
	c.Nullable = true
	return &c
}

func listOf(item *Schema) *Schema { return &Schema{Kind: KindSequence, Items: item} }

func mapping(fields ...Field) *Schema { return &Schema{Kind: KindMapping, Fields: fields} }

func req(name string, s *Schema) Field { return Field{Name: name, Required: true, Schema: s} }

func opt(name string, s *Schema) Field { return Field{Name: name, Schema: s} }

// StorySpecSchema is the strict schema for story scenario specs. Enum and
// cross-reference checks are left to the normalizer.
var StorySpecSchema = mapping(
	req("id", scalar(KindString)),
	req("version", scalar(KindInteger)),
	req("initial_step", scalar(KindString)),
	req("app_bindings", listOf(mapping(
		req("id", scalar(KindString)),
		req("app", scalar(KindString)),
		opt("config", nullable(mapping(
			opt("hold_ms", scalar(KindInteger)),
			opt("unlock_event", scalar(KindString)),
			opt("require_listening", scalar(KindBoolean)),
		))),
	))),
	req("steps", listOf(mapping(
		req("step_id", scalar(KindString)),
		opt("screen_scene_id", nullable(scalar(KindString))),
		opt("audio_pack_id", nullable(scalar(KindString))),
		opt("actions", listOf(scalar(KindString))),
		opt("apps", listOf(scalar(KindString))),
		opt("mp3_gate_open", scalar(KindBoolean)),
		opt("transitions", listOf(mapping(
			opt("id", nullable(scalar(KindString))),
			opt("trigger", scalar(KindString)),
			opt("event_type", scalar(KindString)),
			opt("event_name", nullable(scalar(KindString))),
			req("target_step_id", scalar(KindString)),
			opt("after_ms", scalar(KindInteger)),
			opt("priority", scalar(KindInteger)),
		))),
	))),
	opt("estimated_duration_s", scalar(KindInteger)),
)

// GameScenarioSchema is the strict schema for author-facing game scenarios.
var GameScenarioSchema = mapping(
	req("id", scalar(KindString)),
	opt("version", scalar(KindInteger)),
	opt("title", scalar(KindString)),
	opt("summary", scalar(KindString)),
	opt("story_scenario", scalar(KindString)),
	opt("players", mapping(
		opt("min", scalar(KindInteger)),
		opt("max", scalar(KindInteger)),
	)),
	opt("duration_minutes", scalar(KindInteger)),
	opt("difficulty", &Schema{Kind: KindString, Enum: []string{"easy", "normal", "hard"}}),
	opt("tags", listOf(scalar(KindString))),
	opt("notes", scalar(KindString)),
)

// ValidateSchema checks every document against schema and returns all
// findings; it never stops at the first one.
func ValidateSchema(docs []Document, schema *Schema) []ValidationIssue {
	var issues []ValidationIssue
	for _, doc := range docs {
		issues = append(issues, checkValue(doc.Path, "", doc.Data, schema)...)
	}
	return issues
}

func checkValue(file, path string, v any, s *Schema) []ValidationIssue {
	if v == nil {
		if s.Nullable || s.Kind == KindAny {
			return nil
		}
		return []ValidationIssue{{File: file, Field: path, Code: "SCHEMA_TYPE",
			Reason: fmt.Sprintf("expected %s, got null", s.Kind)}}
	}

	if !matchesKind(v, s.Kind) {
		return []ValidationIssue{{File: file, Field: path, Code: "SCHEMA_TYPE",
			Reason: fmt.Sprintf("expected %s, got %s", s.Kind, kindOf(v))}}
	}

	switch s.Kind {
	case KindString:
		if len(s.Enum) > 0 && !containsString(s.Enum, v.(string)) {
			return []ValidationIssue{{File: file, Field: path, Code: "SCHEMA_ENUM",
				Reason: fmt.Sprintf("value %q not in [%s]", v, strings.Join(s.Enum, ", "))}}
		}
	case KindSequence:
		var issues []ValidationIssue
		for i, item := range v.([]any) {
			issues = append(issues, checkValue(file, fmt.Sprintf("%s[%d]", path, i), item, s.Items)...)
		}
		return issues
	case KindMapping:
		m, _ := asMap(v)
		return checkMapping(file, path, m, s)
	}
	return nil
}

func checkMapping(file, path string, m map[string]any, s *Schema) []ValidationIssue {
	var issues []ValidationIssue
	known := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = struct{}{}
		val, ok := m[f.Name]
		if !ok {
			if f.Required {
				issues = append(issues, ValidationIssue{File: file, Field: joinField(path, f.Name),
					Code: "SCHEMA_REQUIRED", Reason: "required field is missing"})
			}
			continue
		}
		issues = append(issues, checkValue(file, joinField(path, f.Name), val, f.Schema)...)
	}

	// Sorted so unknown-field reports are stable across runs.
	var unknown []string
	for k := range m {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		issues = append(issues, ValidationIssue{File: file, Field: joinField(path, k),
			Code: "SCHEMA_UNKNOWN_FIELD", Reason: "field is not allowed by the schema"})
	}
	return issues
}

func matchesKind(v any, k Kind) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInteger:
		_, ok := toInt64(v)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindMapping:
		_, ok := asMap(v)
		return ok
	case KindSequence:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// toInt64 accepts YAML integers and integral floats, never booleans.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func joinField(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
