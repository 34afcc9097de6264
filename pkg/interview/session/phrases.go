package session

import (
	"fmt"
	"strings"

	"github.com/hireloop/interviewd/pkg/store"
)

// Fixed fallback lines. Generation failures are absorbed with these so the
// conversation keeps moving.
const (
	fallbackAck    = "Thanks."
	fallbackBridge = "Let's continue."
)

func greetingLine(sess *store.Session) string {
	role := strings.TrimSpace(sess.Role)
	company := strings.TrimSpace(sess.Company)
	switch {
	case role != "" && company != "":
		return fmt.Sprintf("Hi, thanks for joining. I'll be interviewing you today for the %s role at %s. Before we dive in, how are you doing?", role, company)
	case role != "":
		return fmt.Sprintf("Hi, thanks for joining. I'll be interviewing you today for the %s role. Before we dive in, how are you doing?", role)
	default:
		return "Hi, thanks for joining. Before we dive in, how are you doing?"
	}
}

func holdAckLine() string {
	return "Of course, take your time. Just start speaking whenever you're ready."
}

func nudgeLine(phase Phase) string {
	if phase == PhaseSmallTalk {
		return "No rush at all. Whenever you're ready, just say hello and we'll get started."
	}
	return "Take your time. Whenever you're ready, go ahead with your answer."
}

func silenceGoodbyeLine() string {
	return "It seems we've lost you, so I'll wrap up here. Thanks for your time, and feel free to reconnect whenever suits you. Goodbye."
}

func timeLimitLine() string {
	return "I'm sorry to cut in, but we've reached the end of our scheduled time. Thank you so much for talking with me today. Goodbye."
}

func questionsExhaustedLine() string {
	return "That covers everything I wanted to ask. Before we finish, do you have any questions for me about the role or the team?"
}

func outOfTimeLine() string {
	return "We're coming up on time, so let's pause the prepared questions there. Do you have any questions for me before we wrap up?"
}

func qaRepromptLine() string {
	return "Is there anything else you'd like to ask?"
}

func timeRemainingNote(minutes int) string {
	if minutes == 1 {
		return "System note: about 1 minute of interview time remains. Begin wrapping up now."
	}
	return fmt.Sprintf("System note: about %d minutes of interview time remain. Pace the remaining questions accordingly.", minutes)
}

func closingLine() string {
	return "Great. Thank you so much for your time today, and best of luck with the rest of the process. Goodbye."
}
