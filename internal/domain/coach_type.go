package domain

import "strings"

// CoachType selects the coaching persona used for a session.
type CoachType string

// Supported coach personas.
const (
	CoachBalanced   CoachType = "balanced"
	CoachEmpathetic CoachType = "empathetic"
	CoachDirect     CoachType = "direct"
	CoachAnalytical CoachType = "analytical"

	DefaultCoachType = CoachBalanced
)

// CoachTypes lists every supported persona.
var CoachTypes = []CoachType{CoachBalanced, CoachEmpathetic, CoachDirect, CoachAnalytical}

// Valid reports whether c names a supported persona.
func (c CoachType) Valid() bool {
	for _, v := range CoachTypes {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCoachType returns the persona named by raw and whether it was recognized.
func ParseCoachType(raw string) (CoachType, bool) {
	c := CoachType(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c, true
	}
	return DefaultCoachType, false
}

// NormalizeCoachType maps any value onto a supported persona.
func NormalizeCoachType(raw string) CoachType {
	c, _ := ParseCoachType(raw)
	return c
}
