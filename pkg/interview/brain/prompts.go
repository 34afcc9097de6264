package brain

import (
	"fmt"
	"strings"

	"github.com/hireloop/interviewd/pkg/store"
)

func smallTalkPrompt(reply string) string {
	return fmt.Sprintf(`You are helping run a voice job interview. The interviewer just asked the candidate how they are doing and whether they are ready to begin. The candidate said:

%q

Decide the candidate's intent. Respond with exactly one JSON object, no prose:
{"action":"continue"} if they are ready to proceed, or
{"action":"hold"} if they asked for more time (e.g. "give me a second", "one moment").`, reply)
}

func answerPrompt(question, answer string) string {
	return fmt.Sprintf(`You are helping run a voice job interview. The interviewer asked:

%q

The candidate answered:

%q

Decide the interviewer's next move. Respond with exactly one JSON object, no prose:
{"action":"hold"} if the candidate asked for time to think rather than answering;
{"action":"follow_up","probe":"<one short spoken follow-up question>"} if the answer was too thin (one or two words, evasive, or missing the substance of the question) and a single probe would draw out more;
{"action":"move_on"} otherwise.
The probe must be phrased for speech: one sentence, no markdown.`, question, answer)
}

func qaDonePrompt(reply string) string {
	return fmt.Sprintf(`In the closing phase of a job interview the interviewer asked the candidate whether they have any questions. The candidate said:

%q

Respond with exactly one JSON object, no prose:
{"done":true} if the candidate has no further questions, {"done":false} if they asked something or want to continue.`, reply)
}

func banterPrompt(reply string) string {
	return fmt.Sprintf(`In a voice job interview the candidate asked for a moment before continuing, saying: %q.
Write one short, warm spoken acknowledgement granting the pause (for example "Of course, take your time."). One sentence, plain text, no markdown.`, reply)
}

func bridgePrompt(prevAnswer string) string {
	return fmt.Sprintf(`In a voice job interview the candidate just finished an answer:

%q

Write one short neutral spoken transition to the next question (for example "Thanks. Moving on."). Hard rules: do NOT evaluate, praise, or criticize the answer in any way; no "great answer", no "interesting". One sentence, plain text, no markdown.`, prevAnswer)
}

func candidateQuestionPrompt(sess *store.Session, question string) string {
	return fmt.Sprintf(`You are the interviewer in a voice job interview for the role of %s at %s (%s industry). Job description:

%s

The candidate asked: %q

Answer in two or three spoken sentences, grounded only in the information above. If the information is not available, say so briefly and offer to pass the question along. Plain text, no markdown.`,
		sess.Role, orUnknown(sess.Company), orUnknown(sess.Industry), sess.JobDescription, question)
}

func questionListPrompt(sess *store.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Generate the question list for a %d-minute spoken job interview.

Role: %s
Experience level: %s
Company: %s
Industry: %s
Region: %s
Interview type: %s
`, sess.DurationMinutes, sess.Role, orUnknown(sess.ExperienceLevel), orUnknown(sess.Company), orUnknown(sess.Industry), orUnknown(sess.Region), sess.Type)
	if strings.TrimSpace(sess.JobDescription) != "" {
		fmt.Fprintf(&b, "\nJob description:\n%s\n", sess.JobDescription)
	}
	if strings.TrimSpace(sess.ResumeText) != "" {
		fmt.Fprintf(&b, "\nCandidate resume:\n%s\n", sess.ResumeText)
	}
	if strings.TrimSpace(sess.Rubric) != "" {
		fmt.Fprintf(&b, "\nScoring rubric to cover:\n%s\n", sess.Rubric)
	}
	b.WriteString(`
Write questions phrased for speech, ordered from warm-up to most demanding, sized so the list fits the duration. Respond with exactly one JSON object, no prose:
{"questions":["...", "..."]}`)
	return b.String()
}

func scorecardPrompt(sess *store.Session, transcript []store.TranscriptEntry) string {
	rubric := strings.TrimSpace(sess.Rubric)
	if rubric == "" {
		rubric = "communication, technical depth, relevant experience, overall fit"
	}
	return fmt.Sprintf(`Score this completed job interview for the role of %s. Rubric dimensions: %s.

Transcript:
%s

Respond with exactly one JSON object mapping each rubric dimension to {"score": <1-5>, "evidence": "<short quote or paraphrase>"} plus a top-level "overall" score. No prose outside the JSON.`,
		sess.Role, rubric, renderTranscript(transcript))
}

func summaryPrompt(sess *store.Session, transcript []store.TranscriptEntry) string {
	return fmt.Sprintf(`Summarize this completed job interview for the role of %s in three short paragraphs: what the candidate covered, notable strengths, and open concerns. Plain text.

Transcript:
%s`, sess.Role, renderTranscript(transcript))
}

// RealtimeInstructions is the persona system prompt handed to a
// speech-to-speech model that runs the conversation itself.
func RealtimeInstructions(sess *store.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a professional, friendly interviewer conducting a %d-minute spoken job interview for the role of %s at %s (%s industry). Experience level: %s.

Open with a brief greeting and one line of small talk, then move into the interview. Ask the prepared questions one at a time, in order:
`, sess.DurationMinutes, sess.Role, orUnknown(sess.Company), orUnknown(sess.Industry), orUnknown(sess.ExperienceLevel))
	for i, q := range sess.Questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	b.WriteString(`
Ask at most one short follow-up per question when an answer is thin, then move on. Never evaluate, praise, or criticize answers aloud. When the questions are done, invite the candidate's own questions and answer briefly from the material below, then close politely. You may receive system notes about remaining time; pace yourself accordingly and never mention the notes.`)
	if strings.TrimSpace(sess.JobDescription) != "" {
		fmt.Fprintf(&b, "\n\nJob description:\n%s", sess.JobDescription)
	}
	if strings.TrimSpace(sess.ResumeText) != "" {
		fmt.Fprintf(&b, "\n\nCandidate resume:\n%s", sess.ResumeText)
	}
	return b.String()
}

func renderTranscript(entries []store.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Text)
	}
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unspecified"
	}
	return s
}
