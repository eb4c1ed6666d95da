package coaching

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ashureev/grow-coach/internal/domain"
)

func TestExtractPayloadScenarioA(t *testing.T) {
	t.Parallel()

	p, err := ExtractPayload("Great job!\n{\"stage\":\"Goal\",\"user_goals\":[\"sleep better\"]}")
	if err != nil {
		t.Fatalf("ExtractPayload failed: %v", err)
	}
	if p.Message != "Great job!" {
		t.Errorf("message = %q, want %q", p.Message, "Great job!")
	}
	st, err := domain.ParseState(p.JSON, domain.StageIntro)
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}
	if st.Stage != domain.StageGoal {
		t.Errorf("stage = %q, want goal", st.Stage)
	}
	if len(st.UserGoals) != 1 || st.UserGoals[0] != "sleep better" {
		t.Errorf("user_goals = %v", st.UserGoals)
	}
}

func TestExtractPayloadNoJSON(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"Just a friendly message without any state.",
		"Unbalanced {\"stage\": \"goal\"",
		"",
	} {
		if _, err := ExtractPayload(text); !errors.Is(err, ErrNoJSONPayload) {
			t.Errorf("ExtractPayload(%q) error = %v, want ErrNoJSONPayload", text, err)
		}
	}
}

func TestExtractPayloadEmptyMessage(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		`{"stage":"goal"}`,
		"---\n**State JSON:**\n```json\n{\"stage\":\"goal\"}\n```",
		"   \n\n{\"stage\":\"goal\"}",
	} {
		if _, err := ExtractPayload(text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("ExtractPayload(%q) error = %v, want ErrEmptyMessage", text, err)
		}
	}
}

func TestExtractPayloadStripsBoilerplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "label and rule",
			text: "That sounds important.\n\n---\nState JSON:\n{\"stage\":\"reality\"}",
			want: "That sounds important.",
		},
		{
			name: "bold label and fence",
			text: "What would **success** look like?\n\n**State JSON:**\n```json\n{\"stage\":\"goal\"}\n```\n",
			want: "What would success look like?",
		},
		{
			name: "inline label",
			text: "Let's look at options. State JSON: {\"stage\":\"options\"}",
			want: "Let's look at options.",
		},
		{
			name: "underscore bold",
			text: "You said __sleep__ matters.\n***\n{\"stage\":\"goal\"}",
			want: "You said sleep matters.",
		},
		{
			name: "multi line message kept",
			text: "First line.\n\nSecond line.\n\n{\"stage\":\"will\"}",
			want: "First line.\n\nSecond line.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := ExtractPayload(tt.text)
			if err != nil {
				t.Fatalf("ExtractPayload failed: %v", err)
			}
			if p.Message != tt.want {
				t.Errorf("message = %q, want %q", p.Message, tt.want)
			}
		})
	}
}

func TestExtractPayloadBracesInStrings(t *testing.T) {
	t.Parallel()

	text := "Noted.\n{\"stage\":\"options\",\"options\":[\"use a } brace\",\"quote \\\" and {\"],\"next_prompt_to_user\":\"ok\"}\ntrailing {junk}"
	p, err := ExtractPayload(text)
	if err != nil {
		t.Fatalf("ExtractPayload failed: %v", err)
	}
	st, err := domain.ParseState(p.JSON, domain.StageIntro)
	if err != nil {
		t.Fatalf("ParseState failed: %v", err)
	}
	if len(st.Options) != 2 || st.Options[0] != "use a } brace" || st.Options[1] != "quote \" and {" {
		t.Errorf("options = %q", st.Options)
	}
	if st.NextPromptToUser != "ok" {
		t.Errorf("next_prompt_to_user = %q", st.NextPromptToUser)
	}
}

func TestExtractPayloadSkipsProseBraces(t *testing.T) {
	t.Parallel()

	p, err := ExtractPayload("Try the {two minute} rule.\n{\"stage\":\"will\"}")
	if err != nil {
		t.Fatalf("ExtractPayload failed: %v", err)
	}
	if p.Message != "Try the {two minute} rule." {
		t.Errorf("message = %q", p.Message)
	}
	if string(p.JSON) != `{"stage":"will"}` {
		t.Errorf("json = %s", p.JSON)
	}
}

func TestExtractPayloadRecoversMessageAndState(t *testing.T) {
	t.Parallel()

	state := domain.EmptyState(domain.StageReality)
	state.Reality.Facts = []string{"works late", "two kids"}
	state.NextPromptToUser = "What else is true right now?"
	encoded, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	message := "Thanks for sharing that.\nIt helps me see the picture."
	for _, suffix := range []string{"", "\n", "\n---\n", "\n```", "\nLet me know!"} {
		p, err := ExtractPayload(message + "\n" + string(encoded) + suffix)
		if err != nil {
			t.Fatalf("suffix %q: ExtractPayload failed: %v", suffix, err)
		}
		if p.Message != message {
			t.Errorf("suffix %q: message = %q", suffix, p.Message)
		}
		var fields map[string]any
		if err := json.Unmarshal(p.JSON, &fields); err != nil {
			t.Fatalf("suffix %q: span is not JSON: %v", suffix, err)
		}
		for _, key := range []string{"stage", "user_goals", "reality", "resources", "options", "plan", "risks", "agreements", "next_prompt_to_user"} {
			if _, ok := fields[key]; !ok {
				t.Errorf("suffix %q: span missing %q", suffix, key)
			}
		}
	}
}
