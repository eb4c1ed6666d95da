package facesheet

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"

	"github.com/ashureev/grow-coach/internal/domain"
)

// SanitizeJSON decodes data and sanitizes the result.
// It returns nil when data is not valid JSON or not a JSON object.
func SanitizeJSON(data []byte) *FaceSheet {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return Sanitize(raw)
}

// Sanitize coerces an arbitrary decoded JSON value into a FaceSheet.
// It returns nil only when raw is not an object; any field-level problem is
// replaced with that field's default.
func Sanitize(raw any) *FaceSheet {
	root, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	basic := section(root, "basic")
	work := section(root, "work")
	family := section(root, "family")
	personality := section(root, "personality")
	inventory := section(root, "lifeInventory")
	coaching := section(root, "coaching")
	safety := section(root, "safety")

	return &FaceSheet{
		Basic: Basic{
			Nickname: text(basic["nickname"], maxNicknameLen),
			AgeRange: pickOne(basic["ageRange"], AgeRanges),
			Gender:   pickOne(basic["gender"], Genders),
			Location: text(basic["location"], maxShortText),
		},
		Work: Work{
			Status:       pickOne(work["status"], WorkStatuses),
			Industry:     text(work["industry"], maxShortText),
			Role:         text(work["role"], maxShortText),
			WorkStyles:   pickMany(work["workStyles"], WorkStyles),
			WeeklyHours:  number(work["weeklyHours"], WeeklyHoursRange),
			Satisfaction: number(work["satisfaction"], SatisfactionRange),
		},
		Family: Family{
			MaritalStatus: pickOne(family["maritalStatus"], MaritalStatus),
			LivingWith:    pickMany(family["livingWith"], Household),
			ChildrenCount: number(family["childrenCount"], ChildrenCountRange),
			Caregiving:    pickOne(family["caregiving"], Caregiving),
		},
		Personality: Personality{
			Openness:           number(personality["openness"], TraitRange),
			Conscientiousness:  number(personality["conscientiousness"], TraitRange),
			Extraversion:       number(personality["extraversion"], TraitRange),
			Agreeableness:      number(personality["agreeableness"], TraitRange),
			EmotionalStability: number(personality["emotionalStability"], TraitRange),
			Strengths:          pickMany(personality["strengths"], Strengths),
			CommunicationStyle: pickOne(personality["communicationStyle"], CommStyles),
			Notes:              text(personality["notes"], maxNotesLen),
		},
		LifeInventory: LifeInventory{
			Health:        number(inventory["health"], SatisfactionRange),
			Work:          number(inventory["work"], SatisfactionRange),
			Money:         number(inventory["money"], SatisfactionRange),
			Family:        number(inventory["family"], SatisfactionRange),
			Relationships: number(inventory["relationships"], SatisfactionRange),
			Growth:        number(inventory["growth"], SatisfactionRange),
			Leisure:       number(inventory["leisure"], SatisfactionRange),
			Environment:   number(inventory["environment"], SatisfactionRange),
			Priorities:    pickMany(inventory["priorities"], LifeAreas),
			Note:          text(inventory["note"], maxLongText),
		},
		Coaching: Coaching{
			Topics: topics(coaching["topics"]),
			Goal:   text(coaching["goal"], maxLongText),
			Pace:   pickOne(coaching["pace"], Paces),
		},
		Safety: Safety{
			Concerns:           concerns(safety["concerns"]),
			SeeingProfessional: pickOne(safety["seeingProfessional"], YesNo),
			Note:               text(safety["note"], maxNotesLen),
		},
	}
}

func section(root map[string]any, key string) map[string]any {
	if m, ok := root[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// pickOne returns v when it is in allowed, else allowed[0].
func pickOne(v any, allowed []string) string {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, a := range allowed {
			if s == a {
				return a
			}
		}
	}
	return allowed[0]
}

// pickMany intersects v with allowed, deduplicated in first-seen order.
func pickMany(v any, allowed []string) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if seen[s] || !contains(allowed, s) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// number parses v, rounds it and clamps it into r. Non-numeric input is nil.
func number(v any, r Range) *int {
	f, ok := domain.ToNumber(v)
	if !ok {
		return nil
	}
	n := int(math.Max(float64(r.Min), math.Min(float64(r.Max), math.Round(f))))
	return &n
}

// text normalizes line endings, drops control characters, trims and
// truncates to maxLen runes.
func text(v any, maxLen int) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxLen {
		s = strings.TrimSpace(string(runes[:maxLen]))
	}
	return s
}

// topics keeps known topic ids once each and clears stars past the cap.
func topics(v any) []Topic {
	out := []Topic{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	seen := make(map[string]bool, len(items))
	stars := 0
	for _, item := range items {
		var id string
		var starred bool
		switch t := item.(type) {
		case string:
			id = t
		case map[string]any:
			id, _ = t["id"].(string)
			starred, _ = t["starred"].(bool)
		default:
			continue
		}
		id = strings.TrimSpace(id)
		if seen[id] || !contains(TopicIDs, id) {
			continue
		}
		seen[id] = true
		if starred {
			if stars >= MaxStarredTopics {
				starred = false
			} else {
				stars++
			}
		}
		out = append(out, Topic{ID: id, Starred: starred})
	}
	return out
}

// concerns drops "none" whenever another concern is also selected.
func concerns(v any) []string {
	picked := pickMany(v, Concerns)
	if len(picked) < 2 {
		return picked
	}
	out := picked[:0]
	for _, c := range picked {
		if c != ConcernNone {
			out = append(out, c)
		}
	}
	return out
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
