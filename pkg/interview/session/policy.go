package session

import "time"

// Policy holds the conversational pacing values. The defaults are empirical
// tuning numbers; callers may override any of them through configuration, and
// none of them carries deeper meaning than "this felt right in live calls".
type Policy struct {
	// SmallTalkPause sits between the small-talk transition line and the
	// first interview question.
	SmallTalkPause time.Duration
	// BridgePause sits between a bridge phrase and the next question.
	BridgePause time.Duration
	// QuestionTimeFloor is the minimum remaining session time required to
	// start another prepared question.
	QuestionTimeFloor time.Duration
	// SilenceNudge is how long after the system stops speaking before the
	// first "are you still there" prompt.
	SilenceNudge time.Duration
	// SilenceWarn is the additional quiet window after the nudge before the
	// session ends for inactivity.
	SilenceWarn time.Duration
	// HoldGrace replaces the nudge window when the candidate explicitly
	// asked for time.
	HoldGrace time.Duration
	// HardOverrunGrace is added to the session's target duration to form the
	// absolute wall-clock limit.
	HardOverrunGrace time.Duration
	// PostClosingGrace is the delay between the final spoken line and the
	// call_ended event, so the audio can finish playing.
	PostClosingGrace time.Duration
}

// DefaultPolicy returns the production pacing values.
func DefaultPolicy() Policy {
	return Policy{
		SmallTalkPause:    2000 * time.Millisecond,
		BridgePause:       800 * time.Millisecond,
		QuestionTimeFloor: 3 * time.Minute,
		SilenceNudge:      15 * time.Second,
		SilenceWarn:       25 * time.Second,
		HoldGrace:         60 * time.Second,
		HardOverrunGrace:  2 * time.Minute,
		PostClosingGrace:  5 * time.Second,
	}
}

// withDefaults fills zero fields so a partially specified policy still paces
// sanely.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.SmallTalkPause <= 0 {
		p.SmallTalkPause = def.SmallTalkPause
	}
	if p.BridgePause <= 0 {
		p.BridgePause = def.BridgePause
	}
	if p.QuestionTimeFloor <= 0 {
		p.QuestionTimeFloor = def.QuestionTimeFloor
	}
	if p.SilenceNudge <= 0 {
		p.SilenceNudge = def.SilenceNudge
	}
	if p.SilenceWarn <= 0 {
		p.SilenceWarn = def.SilenceWarn
	}
	if p.HoldGrace <= 0 {
		p.HoldGrace = def.HoldGrace
	}
	if p.HardOverrunGrace <= 0 {
		p.HardOverrunGrace = def.HardOverrunGrace
	}
	if p.PostClosingGrace <= 0 {
		p.PostClosingGrace = def.PostClosingGrace
	}
	return p
}
