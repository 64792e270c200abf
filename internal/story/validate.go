package story

// Result is the outcome of a successful validation run.
type Result struct {
	Scenarios []Scenario
	Games     []GameScenario
	SpecHash  string
}

// Validate runs Loader, Schema Validator and Normalizer over the spec
// directory and the optional game directory. gameRequired makes a missing
// game directory a ConfigurationError instead of being skipped.
// Stages fail fast: schema issues stop before normalization.
func Validate(specDir, gameDir string, gameRequired bool) (*Result, error) {
	specDocs, err := LoadDocuments(specDir)
	if err != nil {
		return nil, err
	}

	var gameDocs []Document
	if gameDir != "" {
		if gameRequired {
			gameDocs, err = LoadDocuments(gameDir)
		} else {
			gameDocs, err = LoadOptionalDocuments(gameDir)
		}
		if err != nil {
			return nil, err
		}
	}

	issues := ValidateSchema(specDocs, StorySpecSchema)
	issues = append(issues, ValidateSchema(gameDocs, GameScenarioSchema)...)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	scenarios, err := Normalize(specDocs)
	if err != nil {
		return nil, err
	}

	games, gameIssues := NormalizeGames(gameDocs, scenarios)
	if len(gameIssues) > 0 {
		return nil, &ValidationError{Issues: gameIssues}
	}

	hash, err := SpecHash(scenarios)
	if err != nil {
		return nil, err
	}

	return &Result{Scenarios: scenarios, Games: games, SpecHash: hash}, nil
}
