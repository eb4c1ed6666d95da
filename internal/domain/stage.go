// Package domain contains core domain types for the coaching engine.
package domain

import "strings"

// Stage is one phase of the GROW coaching protocol.
type Stage string

// The seven protocol stages, in protocol order.
const (
	StageIntro     Stage = "intro"
	StageInventory Stage = "inventory"
	StageGoal      Stage = "goal"
	StageReality   Stage = "reality"
	StageOptions   Stage = "options"
	StageWill      Stage = "will"
	StageClosing   Stage = "closing"

	// StageUndefined signals that a token matched no stage.
	StageUndefined Stage = ""
)

// Stages lists every valid stage in protocol order.
var Stages = []Stage{
	StageIntro,
	StageInventory,
	StageGoal,
	StageReality,
	StageOptions,
	StageWill,
	StageClosing,
}

// stageAliases maps letter-only, lowercased tokens to their canonical stage.
var stageAliases = map[string]Stage{
	"i":             StageIntro,
	"introduction":  StageIntro,
	"opening":       StageIntro,
	"open":          StageIntro,
	"start":         StageIntro,
	"greeting":      StageIntro,
	"checkin":       StageInventory,
	"lifeinventory": StageInventory,
	"inventories":   StageInventory,
	"assessment":    StageInventory,
	"g":             StageGoal,
	"goals":         StageGoal,
	"goalsetting":   StageGoal,
	"r":             StageReality,
	"realities":     StageReality,
	"current":       StageReality,
	"o":             StageOptions,
	"option":        StageOptions,
	"alternatives":  StageOptions,
	"w":             StageWill,
	"wayforward":    StageWill,
	"action":        StageWill,
	"actions":       StageWill,
	"plan":          StageWill,
	"commitment":    StageWill,
	"c":             StageClosing,
	"close":         StageClosing,
	"closure":       StageClosing,
	"wrap":          StageClosing,
	"wrapup":        StageClosing,
	"review":        StageClosing,
	"summary":       StageClosing,
	"end":           StageClosing,
}

// NormalizeStage canonicalizes a free-form stage token.
// It lowercases, drops every non-letter, then matches the canonical names
// followed by the alias table. Unmatched input yields StageUndefined.
func NormalizeStage(raw string) Stage {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	token := b.String()
	if token == "" {
		return StageUndefined
	}
	for _, s := range Stages {
		if string(s) == token {
			return s
		}
	}
	if s, ok := stageAliases[token]; ok {
		return s
	}
	return StageUndefined
}

// Valid reports whether s is one of the seven canonical stages.
func (s Stage) Valid() bool {
	for _, v := range Stages {
		if s == v {
			return true
		}
	}
	return false
}

// Index returns the position of s in protocol order, or -1.
func (s Stage) Index() int {
	for i, v := range Stages {
		if s == v {
			return i
		}
	}
	return -1
}

// StageOr normalizes raw and falls back when it matches nothing.
func StageOr(raw string, fallback Stage) Stage {
	if s := NormalizeStage(raw); s != StageUndefined {
		return s
	}
	if fallback.Valid() {
		return fallback
	}
	return StageIntro
}
