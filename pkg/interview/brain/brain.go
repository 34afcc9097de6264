// Package brain holds every one-shot text-generation call the interview makes:
// intent classification between turns, small pieces of spoken filler, Q&A
// answers, pre-session question generation, and post-session scoring. All
// callers are expected to tolerate errors; the orchestrator substitutes fixed
// neutral phrases when a call fails or returns something unparsable.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hireloop/interviewd/pkg/store"
)

// SmallTalkAction is the candidate's intent during warm-up chat.
type SmallTalkAction string

const (
	SmallTalkContinue SmallTalkAction = "continue"
	SmallTalkHold     SmallTalkAction = "hold"
)

// AnswerAction is the interviewer's next move after a question answer.
type AnswerAction string

const (
	AnswerMoveOn   AnswerAction = "move_on"
	AnswerFollowUp AnswerAction = "follow_up"
	AnswerHold     AnswerAction = "hold"
)

// AnswerDecision pairs the chosen action with an optional follow-up probe.
type AnswerDecision struct {
	Action AnswerAction
	Probe  string
}

// TextModel is the minimal generation surface the brain needs. The production
// implementation is Gemini; tests inject a canned model.
type TextModel interface {
	GenerateText(ctx context.Context, prompt string, maxTokens int32) (string, error)
}

// Generator wraps a TextModel with interview-specific prompts and a per-call
// timeout.
type Generator struct {
	model       TextModel
	callTimeout time.Duration
}

func NewGenerator(model TextModel, callTimeout time.Duration) *Generator {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Generator{model: model, callTimeout: callTimeout}
}

func (g *Generator) generate(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	out, err := g.model.GenerateText(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// generateJSON runs a prompt that must return a single JSON object and decodes
// it strictly into dst.
func (g *Generator) generateJSON(ctx context.Context, prompt string, maxTokens int32, dst any) error {
	raw, err := g.generate(ctx, prompt, maxTokens)
	if err != nil {
		return err
	}
	raw = stripCodeFence(raw)
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("unparsable model output: %w", err)
	}
	return nil
}

// ClassifySmallTalk decides whether the candidate is ready to begin or asked
// for more time.
func (g *Generator) ClassifySmallTalk(ctx context.Context, reply string) (SmallTalkAction, error) {
	var out struct {
		Action string `json:"action"`
	}
	if err := g.generateJSON(ctx, smallTalkPrompt(reply), 64, &out); err != nil {
		return "", err
	}
	switch strings.ToLower(strings.TrimSpace(out.Action)) {
	case "hold":
		return SmallTalkHold, nil
	case "continue":
		return SmallTalkContinue, nil
	default:
		return "", fmt.Errorf("unknown small-talk action %q", out.Action)
	}
}

// ClassifyAnswer decides what to do after a candidate answers an interview
// question.
func (g *Generator) ClassifyAnswer(ctx context.Context, question, answer string) (AnswerDecision, error) {
	var out struct {
		Action string `json:"action"`
		Probe  string `json:"probe"`
	}
	if err := g.generateJSON(ctx, answerPrompt(question, answer), 200, &out); err != nil {
		return AnswerDecision{}, err
	}
	switch strings.ToLower(strings.TrimSpace(out.Action)) {
	case "hold":
		return AnswerDecision{Action: AnswerHold}, nil
	case "follow_up":
		probe := strings.TrimSpace(out.Probe)
		if probe == "" {
			return AnswerDecision{}, fmt.Errorf("follow_up decision with empty probe")
		}
		return AnswerDecision{Action: AnswerFollowUp, Probe: probe}, nil
	case "move_on":
		return AnswerDecision{Action: AnswerMoveOn}, nil
	default:
		return AnswerDecision{}, fmt.Errorf("unknown answer action %q", out.Action)
	}
}

// ClassifyQADone decides whether a candidate's Q&A reply means they have no
// further questions.
func (g *Generator) ClassifyQADone(ctx context.Context, reply string) (bool, error) {
	var out struct {
		Done bool `json:"done"`
	}
	if err := g.generateJSON(ctx, qaDonePrompt(reply), 32, &out); err != nil {
		return false, err
	}
	return out.Done, nil
}

// Banter produces a short spoken acknowledgement when the candidate asks for
// a moment.
func (g *Generator) Banter(ctx context.Context, reply string) (string, error) {
	return g.generate(ctx, banterPrompt(reply), 80)
}

// Bridge produces a neutral transition phrase between questions. The prompt
// forbids value judgments about the previous answer; callers still fall back
// to a fixed phrase when the model misbehaves.
func (g *Generator) Bridge(ctx context.Context, prevAnswer string) (string, error) {
	return g.generate(ctx, bridgePrompt(prevAnswer), 80)
}

// AnswerQuestion answers a candidate's own question using the job context.
func (g *Generator) AnswerQuestion(ctx context.Context, sess *store.Session, question string) (string, error) {
	return g.generate(ctx, candidateQuestionPrompt(sess, question), 300)
}

// GenerateQuestions builds the ordered question list at session-setup time.
func (g *Generator) GenerateQuestions(ctx context.Context, sess *store.Session) ([]string, error) {
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := g.generateJSON(ctx, questionListPrompt(sess), 1500, &out); err != nil {
		return nil, err
	}
	questions := make([]string, 0, len(out.Questions))
	for _, q := range out.Questions {
		q = strings.TrimSpace(q)
		if q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("model returned no questions")
	}
	return questions, nil
}

// ScoreInterview produces the machine-readable scorecard over the final
// transcript.
func (g *Generator) ScoreInterview(ctx context.Context, sess *store.Session, transcript []store.TranscriptEntry) (string, error) {
	return g.generate(ctx, scorecardPrompt(sess, transcript), 2000)
}

// SummarizeInterview produces the human-readable summary over the final
// transcript.
func (g *Generator) SummarizeInterview(ctx context.Context, sess *store.Session, transcript []store.TranscriptEntry) (string, error) {
	return g.generate(ctx, summaryPrompt(sess, transcript), 1200)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
