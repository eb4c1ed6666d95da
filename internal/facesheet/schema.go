// Package facesheet normalizes the client intake profile ("face sheet")
// into a bounded schema and renders it as generator context.
package facesheet

// FaceSheet is the sanitized intake profile. Every selectable field holds a
// value from its closed set, numbers are nil or inside their range, and text
// is bounded.
type FaceSheet struct {
	Basic         Basic         `json:"basic"`
	Work          Work          `json:"work"`
	Family        Family        `json:"family"`
	Personality   Personality   `json:"personality"`
	LifeInventory LifeInventory `json:"lifeInventory"`
	Coaching      Coaching      `json:"coaching"`
	Safety        Safety        `json:"safety"`
}

// Basic holds demographic basics.
type Basic struct {
	Nickname string `json:"nickname"`
	AgeRange string `json:"ageRange"`
	Gender   string `json:"gender"`
	Location string `json:"location"`
}

// Work describes the client's working life.
type Work struct {
	Status       string   `json:"status"`
	Industry     string   `json:"industry"`
	Role         string   `json:"role"`
	WorkStyles   []string `json:"workStyles"`
	WeeklyHours  *int     `json:"weeklyHours"`
	Satisfaction *int     `json:"satisfaction"`
}

// Family describes household and care responsibilities.
type Family struct {
	MaritalStatus string   `json:"maritalStatus"`
	LivingWith    []string `json:"livingWith"`
	ChildrenCount *int     `json:"childrenCount"`
	Caregiving    string   `json:"caregiving"`
}

// Personality holds 1..5 trait self-ratings and preferences.
type Personality struct {
	Openness           *int     `json:"openness"`
	Conscientiousness  *int     `json:"conscientiousness"`
	Extraversion       *int     `json:"extraversion"`
	Agreeableness      *int     `json:"agreeableness"`
	EmotionalStability *int     `json:"emotionalStability"`
	Strengths          []string `json:"strengths"`
	CommunicationStyle string   `json:"communicationStyle"`
	Notes              string   `json:"notes"`
}

// LifeInventory holds 0..10 satisfaction per life area.
type LifeInventory struct {
	Health        *int     `json:"health"`
	Work          *int     `json:"work"`
	Money         *int     `json:"money"`
	Family        *int     `json:"family"`
	Relationships *int     `json:"relationships"`
	Growth        *int     `json:"growth"`
	Leisure       *int     `json:"leisure"`
	Environment   *int     `json:"environment"`
	Priorities    []string `json:"priorities"`
	Note          string   `json:"note"`
}

// Coaching holds what the client wants to work on.
type Coaching struct {
	Topics []Topic `json:"topics"`
	Goal   string  `json:"goal"`
	Pace   string  `json:"pace"`
}

// Topic is one selected coaching topic.
type Topic struct {
	ID      string `json:"id"`
	Starred bool   `json:"starred"`
}

// Safety records risk screening answers.
type Safety struct {
	Concerns           []string `json:"concerns"`
	SeeingProfessional string   `json:"seeingProfessional"`
	Note               string   `json:"note"`
}

// Unspecified is the default of every single-select field.
const Unspecified = "unspecified"

// MaxStarredTopics caps how many topics may be starred.
const MaxStarredTopics = 3

// ConcernNone is the safety answer that excludes every other concern.
const ConcernNone = "none"

// Closed value sets.
var (
	AgeRanges     = []string{Unspecified, "under20", "20s", "30s", "40s", "50s", "60plus"}
	Genders       = []string{Unspecified, "female", "male", "nonbinary", "noAnswer"}
	WorkStatuses  = []string{Unspecified, "employed", "selfEmployed", "student", "homemaker", "jobSeeking", "retired", "other"}
	WorkStyles    = []string{"office", "remote", "hybrid", "shift", "field"}
	MaritalStatus = []string{Unspecified, "single", "partnered", "married", "divorced", "widowed"}
	Household     = []string{"alone", "partner", "children", "parents", "siblings", "friends", "pets", "other"}
	Caregiving    = []string{Unspecified, "none", "children", "elder", "other"}
	Strengths     = []string{"curiosity", "persistence", "empathy", "creativity", "analysis", "leadership", "humor", "organization"}
	CommStyles    = []string{Unspecified, "direct", "gentle", "logical", "encouraging"}
	LifeAreas     = []string{"health", "work", "money", "family", "relationships", "growth", "leisure", "environment"}
	TopicIDs      = []string{"work", "career", "relationships", "family", "health", "sleepFatigue", "stressCare", "finance", "learning", "habits", "selfEsteem", "timeManagement", "other"}
	Paces         = []string{Unspecified, "slow", "steady", "fast"}
	Concerns      = []string{ConcernNone, "selfHarm", "harmToOthers", "abuse", "substance", "medical", "crisis"}
	YesNo         = []string{Unspecified, "yes", "no"}
)

// Numeric ranges, inclusive.
var (
	TraitRange         = Range{1, 5}
	SatisfactionRange  = Range{0, 10}
	WeeklyHoursRange   = Range{0, 100}
	ChildrenCountRange = Range{0, 10}
)

// Range is an inclusive integer interval.
type Range struct {
	Min, Max int
}

// Maximum text lengths, in runes.
const (
	maxNicknameLen = 40
	maxShortText   = 60
	maxNotesLen    = 300
	maxLongText    = 500
)
