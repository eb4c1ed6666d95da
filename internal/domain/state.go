package domain

// CoachingState is the structured outcome of one coaching turn.
// After ValidateState every field is present and well typed: slices are
// non-nil and hold only trimmed, non-empty strings.
type CoachingState struct {
	Stage            Stage     `json:"stage"`
	UserGoals        []string  `json:"user_goals"`
	Reality          Reality   `json:"reality"`
	Resources        Resources `json:"resources"`
	Options          []string  `json:"options"`
	Plan             Plan      `json:"plan"`
	Risks            []string  `json:"risks"`
	Agreements       []string  `json:"agreements"`
	NextPromptToUser string    `json:"next_prompt_to_user"`
}

// Reality captures the client's current situation.
type Reality struct {
	Facts     []string `json:"facts"`
	Obstacles []string `json:"obstacles"`
	Supports  []string `json:"supports"`
	// Score is a self-assessed 0..10 rating, nil when unknown.
	Score *float64 `json:"score_0to10"`
}

// Resources lists what the client can draw on.
type Resources struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
}

// Plan is the committed way forward.
type Plan struct {
	FirstStep        string `json:"first_step"`
	WhenWhere        string `json:"when_where"`
	MeasureOfSuccess string `json:"measure_of_success"`
	IfThen           string `json:"if_then"`
	PlanB            string `json:"planB"`
}

// ScoreMin and ScoreMax bound Reality.Score.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

// EmptyState returns a fully defaulted state at the given stage.
func EmptyState(stage Stage) CoachingState {
	if !stage.Valid() {
		stage = StageIntro
	}
	return CoachingState{
		Stage:     stage,
		UserGoals: []string{},
		Reality: Reality{
			Facts:     []string{},
			Obstacles: []string{},
			Supports:  []string{},
		},
		Resources: Resources{
			Internal: []string{},
			External: []string{},
		},
		Options:    []string{},
		Risks:      []string{},
		Agreements: []string{},
	}
}
