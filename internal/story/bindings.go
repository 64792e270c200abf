package story

import "sort"

// AggregateBindings merges bindings of all scenarios into one table sorted
// by id. The same id is accepted only with identical app and config.
func AggregateBindings(scenarios []Scenario) ([]AppBinding, error) {
	origins := make(map[string]BindingOrigin)
	var merged []AppBinding
	for _, sc := range scenarios {
		for _, b := range sc.AppBindings {
			origin := BindingOrigin{ScenarioID: sc.ID, Source: sc.Source, App: b.App, Config: b.Config}
			first, seen := origins[b.ID]
			if !seen {
				origins[b.ID] = origin
				merged = append(merged, b)
				continue
			}
			if first.App != b.App || !sameConfig(first.Config, b.Config) {
				return nil, &ConflictError{BindingID: b.ID, First: first, Second: origin}
			}
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged, nil
}

func sameConfig(a, b *LaDetectorConfig) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
