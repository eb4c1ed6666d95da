package coaching

import (
	"fmt"
	"strings"

	"github.com/ashureev/grow-coach/internal/domain"
	"github.com/ashureev/grow-coach/internal/llm"
)

const basePrompt = `You are a professional life coach running a GROW coaching conversation.
The session moves through these stages: intro, inventory, goal, reality, options, will, closing.
Ask one question at a time, keep replies short, and never diagnose or give medical advice.
If the client mentions self-harm or a crisis, respond with care and point them to professional help.
You decide when to move to another stage and declare it in the JSON "stage" field.`

var personas = map[domain.CoachType]string{
	domain.CoachBalanced:   "Coaching style: balanced. Mix warmth with structure and move the session forward at a steady pace.",
	domain.CoachEmpathetic: "Coaching style: empathetic. Reflect feelings back, validate often, and let the client set the pace.",
	domain.CoachDirect:     "Coaching style: direct. Be concise, name patterns plainly, and push gently toward concrete commitments.",
	domain.CoachAnalytical: "Coaching style: analytical. Ask for specifics, numbers and evidence, and structure options explicitly.",
}

const formatInstruction = `Reply format:
1. First, your message to the client as plain text.
2. Then exactly one JSON object with these keys and nothing after it:
{"stage": "intro|inventory|goal|reality|options|will|closing",
 "user_goals": [string],
 "reality": {"facts": [string], "obstacles": [string], "supports": [string], "score_0to10": number|null},
 "resources": {"internal": [string], "external": [string]},
 "options": [string],
 "plan": {"first_step": string, "when_where": string, "measure_of_success": string, "if_then": string, "planB": string},
 "risks": [string],
 "agreements": [string],
 "next_prompt_to_user": string}
Carry forward everything already agreed in earlier turns.`

// SystemPrompt returns the system instruction for a coach persona.
func SystemPrompt(coachType domain.CoachType) string {
	persona, ok := personas[coachType]
	if !ok {
		persona = personas[domain.DefaultCoachType]
	}
	return basePrompt + "\n\n" + persona
}

// BuildPrompt assembles the generator request for one turn: the persona
// system prompt, the face sheet summary, at most historyLimit prior messages
// as "ROLE: content" lines, the new user turn and the output format.
func BuildPrompt(coachType domain.CoachType, summary string, history []domain.Message, stage domain.Stage, userText string, historyLimit int) llm.Request {
	var fragments []string

	if summary = strings.TrimSpace(summary); summary != "" {
		fragments = append(fragments, "Client profile:\n"+summary)
	}

	if historyLimit > 0 && len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, m := range history {
			lines = append(lines, formatTurn(m.Role, m.Content))
		}
		fragments = append(fragments, "Conversation so far:\n"+strings.Join(lines, "\n"))
	}

	if !stage.Valid() {
		stage = domain.StageIntro
	}
	fragments = append(fragments,
		fmt.Sprintf("Current stage: %s", stage),
		formatTurn(domain.RoleUser, userText),
		formatInstruction,
	)

	return llm.Request{System: SystemPrompt(coachType), Fragments: fragments}
}

func formatTurn(role domain.Role, content string) string {
	return strings.ToUpper(string(role)) + ": " + content
}
