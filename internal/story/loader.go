package story

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one YAML file whose root is a mapping.
type Document struct {
	Path string
	Data map[string]any
}

// IsYAMLFile reports whether name has a .yaml or .yml extension, any case.
func IsYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDocuments reads every YAML file in path (non-recursive) or the single
// file path points to. Documents are returned sorted by path.
// A root that is not a mapping is reported as a ValidationError once all
// files have been read.
func LoadDocuments(path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, NewConfigurationError("stat input", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, NewConfigurationError("read dir", path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsYAMLFile(entry.Name()) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	} else {
		files = []string{path}
	}
	sort.Strings(files)

	docs := make([]Document, 0, len(files))
	var issues []ValidationIssue
	for _, file := range files {
		doc, issue, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		docs = append(docs, doc)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return docs, nil
}

func loadFile(path string) (Document, *ValidationIssue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, nil, NewConfigurationError("read file", path, err)
	}

	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Document{}, &ValidationIssue{
			File:   path,
			Reason: fmt.Sprintf("invalid YAML: %v", err),
			Code:   "YAML_PARSE",
		}, nil
	}

	m, ok := asMap(root)
	if !ok {
		return Document{}, &ValidationIssue{
			File:   path,
			Reason: fmt.Sprintf("root must be a mapping, got %s", kindOf(root)),
			Code:   "YAML_ROOT_NOT_MAPPING",
		}, nil
	}
	return Document{Path: path, Data: m}, nil, nil
}

// LoadOptionalDocuments is LoadDocuments for inputs that may be absent:
// a missing path yields no documents and no error.
func LoadOptionalDocuments(path string) ([]Document, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return LoadDocuments(path)
}

// asMap normalizes the two mapping shapes yaml.v3 can produce.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any, map[any]any:
		return "mapping"
	case []any:
		return "sequence"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
