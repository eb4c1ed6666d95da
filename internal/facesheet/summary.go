package facesheet

import (
	"fmt"
	"strings"
)

// Summary renders the non-default parts of fs as short labelled lines for
// the generator's context window. A nil or empty face sheet yields "".
func Summary(fs *FaceSheet) string {
	if fs == nil {
		return ""
	}

	var lines []string
	add := func(label string, parts []string) {
		if len(parts) > 0 {
			lines = append(lines, label+": "+strings.Join(parts, "; "))
		}
	}

	add("Basic", compact(
		kv("nickname", fs.Basic.Nickname),
		kv("age", choice(fs.Basic.AgeRange)),
		kv("gender", choice(fs.Basic.Gender)),
		kv("location", fs.Basic.Location),
	))
	add("Work", compact(
		kv("status", choice(fs.Work.Status)),
		kv("industry", fs.Work.Industry),
		kv("role", fs.Work.Role),
		kv("styles", strings.Join(fs.Work.WorkStyles, ",")),
		kvInt("weekly hours", fs.Work.WeeklyHours),
		kvInt("satisfaction", fs.Work.Satisfaction),
	))
	add("Family", compact(
		kv("marital", choice(fs.Family.MaritalStatus)),
		kv("living with", strings.Join(fs.Family.LivingWith, ",")),
		kvInt("children", fs.Family.ChildrenCount),
		kv("caregiving", choice(fs.Family.Caregiving)),
	))
	add("Personality", compact(
		kvInt("openness", fs.Personality.Openness),
		kvInt("conscientiousness", fs.Personality.Conscientiousness),
		kvInt("extraversion", fs.Personality.Extraversion),
		kvInt("agreeableness", fs.Personality.Agreeableness),
		kvInt("emotional stability", fs.Personality.EmotionalStability),
		kv("strengths", strings.Join(fs.Personality.Strengths, ",")),
		kv("prefers", choice(fs.Personality.CommunicationStyle)),
		kv("notes", fs.Personality.Notes),
	))

	li := fs.LifeInventory
	add("Life satisfaction (0-10)", compact(
		kvInt("health", li.Health),
		kvInt("work", li.Work),
		kvInt("money", li.Money),
		kvInt("family", li.Family),
		kvInt("relationships", li.Relationships),
		kvInt("growth", li.Growth),
		kvInt("leisure", li.Leisure),
		kvInt("environment", li.Environment),
		kv("priorities", strings.Join(li.Priorities, ",")),
		kv("note", li.Note),
	))

	var topicNames []string
	for _, t := range fs.Coaching.Topics {
		if t.Starred {
			topicNames = append(topicNames, t.ID+"*")
		} else {
			topicNames = append(topicNames, t.ID)
		}
	}
	add("Coaching", compact(
		kv("topics", strings.Join(topicNames, ",")),
		kv("goal", fs.Coaching.Goal),
		kv("pace", choice(fs.Coaching.Pace)),
	))
	add("Safety", compact(
		kv("concerns", strings.Join(fs.Safety.Concerns, ",")),
		kv("seeing professional", choice(fs.Safety.SeeingProfessional)),
		kv("note", fs.Safety.Note),
	))

	return strings.Join(lines, "\n")
}

func choice(v string) string {
	if v == Unspecified {
		return ""
	}
	return v
}

func kv(k, v string) string {
	if v == "" {
		return ""
	}
	return k + "=" + strings.ReplaceAll(v, "\n", " ")
}

func kvInt(k string, v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%s=%d", k, *v)
}

func compact(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
