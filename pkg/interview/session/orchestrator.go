// Package session holds the per-connection interview orchestrator: the state
// machine that sequences phases, paces questions, escalates on silence, and
// terminates cleanly. One orchestrator exists per live connection; all state
// is owned by the Run goroutine except the phase, which is mirrored behind a
// mutex for observers.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hireloop/interviewd/pkg/interview/brain"
	"github.com/hireloop/interviewd/pkg/interview/protocol"
	"github.com/hireloop/interviewd/pkg/interview/upstream"
	"github.com/hireloop/interviewd/pkg/store"
)

// Phase is the interview progression. Transitions only move forward.
type Phase string

const (
	PhaseIntro      Phase = "intro"
	PhaseSmallTalk  Phase = "small_talk"
	PhaseInterview  Phase = "interview"
	PhaseQAndA      Phase = "q_and_a"
	PhaseClosing    Phase = "closing"
	PhaseTerminated Phase = "terminated"
)

// Mode selects the upstream strategy the orchestrator is driving.
type Mode int

const (
	// ModePipeline runs the full phase machine over discrete
	// transcribe/decide/synthesize turns.
	ModePipeline Mode = iota
	// ModeRealtime delegates turn-taking to a speech-to-speech model; the
	// orchestrator keeps only transcripts, timers, and termination.
	ModeRealtime
)

// Outbound delivers server frames to the client connection.
type Outbound interface {
	Send(msg any) error
}

// Decider is the slice of text-generation calls the phase machine makes.
// *brain.Generator satisfies it.
type Decider interface {
	ClassifySmallTalk(ctx context.Context, reply string) (brain.SmallTalkAction, error)
	ClassifyAnswer(ctx context.Context, question, answer string) (brain.AnswerDecision, error)
	ClassifyQADone(ctx context.Context, reply string) (bool, error)
	Banter(ctx context.Context, reply string) (string, error)
	Bridge(ctx context.Context, prevAnswer string) (string, error)
	AnswerQuestion(ctx context.Context, sess *store.Session, question string) (string, error)
}

// noteInjector is implemented by upstreams that accept out-of-band context
// notes, used for the time-remaining reminders in realtime mode.
type noteInjector interface {
	InjectNote(ctx context.Context, text string) error
}

// Dependencies wires one orchestrator. Zero Logger and Now get defaults.
type Dependencies struct {
	Session  *store.Session
	Upstream upstream.Upstream
	// Decider is required in ModePipeline, unused in ModeRealtime.
	Decider Decider
	Store   store.Store
	Out     Outbound
	Mode    Mode
	Policy  Policy
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator owns one live interview. All fields below deps are owned by
// the Run goroutine.
type Orchestrator struct {
	deps   Dependencies
	policy Policy
	log    *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// done is closed when Run returns. Deliver and RequestTermination gate on
	// it rather than on ctx, so they are safe before Run has started.
	done chan struct{}

	clientCh   chan any
	decisionCh chan decisionOutcome
	speakCh    chan speakReq

	phaseMu        sync.Mutex
	phase          Phase
	cursor         int
	insideFollowUp bool
	silenceLevel   int
	onHold         bool
	turnInFlight   bool
	turnID         int
	terminating    bool
	termReason     string
	audioSeq       int64

	// sessionDeadline is the soft pacing deadline; the hard limiter adds the
	// overrun grace on top.
	sessionDeadline time.Time
	noteMarks       []time.Duration
}

type speakReq struct {
	text        string
	pauseBefore time.Duration
	persist     bool
}

type decisionKind int

const (
	decideSmallTalk decisionKind = iota
	decideAnswer
	decideAdvance
	decideQA
)

type decisionOutcome struct {
	turnID    int
	kind      decisionKind
	smallTalk brain.SmallTalkAction
	answer    brain.AnswerDecision
	bridge    string
	qaDone    bool
	qaAnswer  string
}

// termRequest is an out-of-band instruction pushed through the client
// channel, e.g. by the registry during shutdown.
type termRequest struct {
	reason string
}

// New validates deps and returns an orchestrator ready to Run.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Session == nil {
		return nil, errors.New("session: nil session")
	}
	if deps.Upstream == nil {
		return nil, errors.New("session: nil upstream")
	}
	if deps.Store == nil {
		return nil, errors.New("session: nil store")
	}
	if deps.Out == nil {
		return nil, errors.New("session: nil outbound")
	}
	if deps.Mode == ModePipeline && deps.Decider == nil {
		return nil, errors.New("session: pipeline mode requires a decider")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		deps:       deps,
		policy:     deps.Policy.withDefaults(),
		log:        deps.Logger.With("session_id", deps.Session.ID),
		now:        deps.Now,
		done:       make(chan struct{}),
		clientCh:   make(chan any, 64),
		decisionCh: make(chan decisionOutcome, 4),
		speakCh:    make(chan speakReq, 16),
		phase:      PhaseIntro,
	}, nil
}

// Phase reports the current phase. Safe from any goroutine.
func (o *Orchestrator) Phase() Phase {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.phaseMu.Lock()
	o.phase = p
	o.phaseMu.Unlock()
}

// Deliver hands one decoded client frame to the run loop. Safe to call before
// Run has started; it reports false once the orchestrator has stopped.
func (o *Orchestrator) Deliver(msg any) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.clientCh <- msg:
		return true
	case <-o.done:
		return false
	}
}

// RequestTermination asks the run loop to wind the session down with the
// given reason. Safe from any goroutine; duplicate calls are absorbed by the
// terminating latch.
func (o *Orchestrator) RequestTermination(reason string) {
	select {
	case o.clientCh <- termRequest{reason: reason}:
	case <-o.done:
	}
}

// Run drives the session until termination or ctx cancellation. It always
// returns with the upstream closed and, when the client is still reachable, a
// call_ended frame delivered.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()
	defer close(o.done)

	start := o.now()
	o.sessionDeadline = start.Add(time.Duration(o.deps.Session.DurationMinutes) * time.Minute)
	if err := o.deps.Store.MarkStarted(o.ctx, o.deps.Session.ID, start); err != nil {
		o.log.Warn("mark session started", "error", err)
	}

	go o.speaker()

	// Hard limiter: one-shot backstop independent of pacing logic.
	hardTimer := time.NewTimer(o.sessionDeadline.Add(o.policy.HardOverrunGrace).Sub(start))
	defer hardTimer.Stop()

	// Timer slot: one pending timer at a time, tagged by purpose.
	var (
		slot        *time.Timer
		slotPurpose = slotNone
	)
	slotC := func() <-chan time.Time {
		if slot == nil {
			return nil
		}
		return slot.C
	}
	stopSlot := func() {
		if slot == nil {
			return
		}
		if !slot.Stop() {
			select {
			case <-slot.C:
			default:
			}
		}
		slotPurpose = slotNone
	}
	armSlot := func(p timerPurpose, d time.Duration) {
		stopSlot()
		if slot == nil {
			slot = time.NewTimer(d)
		} else {
			slot.Reset(d)
		}
		slotPurpose = p
	}
	stopSilenceSlot := func() {
		if slotPurpose == slotNudge || slotPurpose == slotWarn || slotPurpose == slotHold {
			stopSlot()
		}
	}
	armSilence := func() {
		if o.terminating || o.silenceLevel >= 2 {
			return
		}
		switch {
		case o.onHold:
			armSlot(slotHold, o.policy.HoldGrace)
		case o.silenceLevel == 0:
			armSlot(slotNudge, o.policy.SilenceNudge)
		default:
			armSlot(slotWarn, o.policy.SilenceWarn)
		}
	}
	scheduleClose := func(reason string) {
		if o.terminating {
			return
		}
		o.terminating = true
		o.termReason = reason
		o.setPhase(PhaseClosing)
		armSlot(slotClose, o.policy.PostClosingGrace)
	}

	o.scheduleTimeNotes(start)
	noteTimer, noteC := o.nextNoteTimer()
	defer func() {
		if noteTimer != nil {
			noteTimer.Stop()
		}
	}()

	o.speakGreeting()
	if o.deps.Mode == ModePipeline {
		o.setPhase(PhaseSmallTalk)
	} else {
		o.setPhase(PhaseInterview)
	}

	defer func() {
		if err := o.deps.Store.MarkEnded(context.WithoutCancel(o.ctx), o.deps.Session.ID, o.now()); err != nil {
			o.log.Warn("mark session ended", "error", err)
		}
		o.setPhase(PhaseTerminated)
	}()

	for {
		select {
		case <-o.ctx.Done():
			reason := o.termReason
			if reason == "" {
				reason = protocol.ReasonClientDisconnected
			}
			o.finish(reason, false)
			return nil

		case msg := <-o.clientCh:
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				if o.terminating {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(m.DataB64)
				if err != nil {
					o.log.Warn("undecodable audio chunk", "error", err)
					continue
				}
				stopSilenceSlot()
				if err := o.deps.Upstream.HandleAudio(data); err != nil {
					o.log.Warn("forward audio", "error", err)
				}
			case protocol.ClientEndOfTurn:
				if o.terminating || o.turnInFlight {
					continue
				}
				o.turnInFlight = true
				stopSilenceSlot()
				if err := o.deps.Upstream.CommitTurn(o.ctx); err != nil {
					o.log.Warn("commit turn", "error", err)
					o.turnInFlight = false
					o.send(protocol.NewSilenceReset())
					armSilence()
				}
			case protocol.ClientPlaybackComplete:
				o.deps.Upstream.NotifyPlaybackComplete()
				if o.deps.Mode == ModePipeline && !o.turnInFlight {
					armSilence()
				}
			case termRequest:
				if !o.terminating {
					o.say(silenceGoodbyeLine())
					scheduleClose(m.reason)
				}
			default:
				o.log.Warn("unhandled client frame", "frame", msg)
			}

		case ev, ok := <-o.deps.Upstream.Events():
			if !ok {
				ev = upstream.Closed{}
			}
			switch e := ev.(type) {
			case upstream.TurnCommitted:
				o.silenceLevel = 0
				o.onHold = false
				stopSilenceSlot()
				o.persist(store.SpeakerCandidate, e.Text)
				o.dispatchDecision(e.Text)
			case upstream.TurnDiscarded:
				o.turnInFlight = false
				o.send(protocol.NewSilenceReset())
				armSilence()
			case upstream.ResponseStart:
				stopSilenceSlot()
				o.send(protocol.NewResponseStart())
			case upstream.TextDelta:
				o.send(protocol.NewTextDelta(e.Text, e.IsFinal))
			case upstream.AudioChunk:
				o.audioSeq++
				o.send(protocol.NewAudioChunk(base64.StdEncoding.EncodeToString(e.Data), o.audioSeq))
			case upstream.ResponseDone:
				o.send(protocol.NewResponseDone())
				if o.deps.Mode == ModeRealtime {
					if e.Text != "" {
						o.persist(store.SpeakerInterviewer, e.Text)
					}
					if !o.turnInFlight {
						armSilence()
					}
				}
			case upstream.Interrupted:
				o.send(protocol.NewInterruption())
			case upstream.Closed:
				if o.terminating && slotPurpose == slotClose {
					// Expected during wind-down; wait for the close slot.
					continue
				}
				if e.Err != nil {
					o.log.Warn("upstream connection dropped", "error", e.Err)
				}
				o.terminating = true
				o.finish(protocol.ReasonUpstreamClosed, true)
				return nil
			}

		case out := <-o.decisionCh:
			if out.turnID != o.turnID || o.terminating {
				continue
			}
			o.turnInFlight = false
			o.applyDecision(out, scheduleClose)

		case <-slotC():
			purpose := slotPurpose
			slotPurpose = slotNone
			switch purpose {
			case slotNudge:
				o.silenceLevel = 1
				o.say(nudgeLine(o.Phase()))
				armSlot(slotWarn, o.policy.SilenceWarn)
			case slotHold:
				o.onHold = false
				o.silenceLevel = 1
				o.say(nudgeLine(o.Phase()))
				armSlot(slotWarn, o.policy.SilenceWarn)
			case slotWarn:
				o.silenceLevel = 2
				o.say(silenceGoodbyeLine())
				scheduleClose(protocol.ReasonSilenceTimeout)
			case slotClose:
				o.finish(o.termReason, true)
				return nil
			}

		case <-hardTimer.C:
			if o.terminating {
				continue
			}
			o.log.Info("hard session limit reached", "phase", o.Phase())
			o.say(timeLimitLine())
			scheduleClose(protocol.ReasonTimeLimit)

		case <-noteC:
			o.injectTimeNote()
			noteTimer, noteC = o.nextNoteTimer()
		}
	}
}

type timerPurpose int

const (
	slotNone timerPurpose = iota
	slotNudge
	slotWarn
	slotHold
	slotClose
)

// dispatchDecision starts the phase-appropriate text-generation work for a
// committed candidate turn. In realtime mode the remote model already decides
// for itself.
func (o *Orchestrator) dispatchDecision(text string) {
	if o.deps.Mode == ModeRealtime || o.terminating {
		o.turnInFlight = false
		return
	}
	switch o.Phase() {
	case PhaseSmallTalk:
		o.turnID++
		go o.decideSmallTalk(o.turnID, text)
	case PhaseInterview:
		o.turnID++
		if o.insideFollowUp {
			go o.decideAdvance(o.turnID, text)
		} else {
			go o.decideAnswer(o.turnID, o.currentQuestion(), text)
		}
	case PhaseQAndA:
		o.turnID++
		go o.decideQA(o.turnID, text)
	default:
		o.turnInFlight = false
	}
}

func (o *Orchestrator) decideSmallTalk(turnID int, reply string) {
	action, err := o.deps.Decider.ClassifySmallTalk(o.ctx, reply)
	if err != nil {
		o.log.Warn("small talk classification failed", "error", err)
		action = brain.SmallTalkContinue
	}
	out := decisionOutcome{turnID: turnID, kind: decideSmallTalk, smallTalk: action}
	if action == brain.SmallTalkContinue {
		banter, err := o.deps.Decider.Banter(o.ctx, reply)
		if err != nil || banter == "" {
			banter = "Glad to hear it. Let's get started."
		}
		out.bridge = banter
	}
	o.deliverDecision(out)
}

func (o *Orchestrator) decideAnswer(turnID int, question, answer string) {
	dec, err := o.deps.Decider.ClassifyAnswer(o.ctx, question, answer)
	if err != nil {
		o.log.Warn("answer classification failed", "error", err)
		dec = brain.AnswerDecision{Action: brain.AnswerMoveOn}
	}
	out := decisionOutcome{turnID: turnID, kind: decideAnswer, answer: dec}
	if dec.Action == brain.AnswerMoveOn {
		out.bridge = o.bridgeOrFallback(answer)
	}
	o.deliverDecision(out)
}

func (o *Orchestrator) decideAdvance(turnID int, answer string) {
	o.deliverDecision(decisionOutcome{
		turnID: turnID,
		kind:   decideAdvance,
		bridge: o.bridgeOrFallback(answer),
	})
}

func (o *Orchestrator) decideQA(turnID int, reply string) {
	done, err := o.deps.Decider.ClassifyQADone(o.ctx, reply)
	if err != nil {
		o.log.Warn("q&a done classification failed", "error", err)
		done = true
	}
	out := decisionOutcome{turnID: turnID, kind: decideQA, qaDone: done}
	if !done {
		answer, err := o.deps.Decider.AnswerQuestion(o.ctx, o.deps.Session, reply)
		if err != nil || answer == "" {
			o.log.Warn("candidate question answering failed", "error", err)
			answer = fallbackBridge
		}
		out.qaAnswer = answer
	}
	o.deliverDecision(out)
}

func (o *Orchestrator) bridgeOrFallback(answer string) string {
	bridge, err := o.deps.Decider.Bridge(o.ctx, answer)
	if err != nil || bridge == "" {
		if err != nil {
			o.log.Warn("bridge generation failed", "error", err)
		}
		return fallbackAck
	}
	return bridge
}

func (o *Orchestrator) deliverDecision(out decisionOutcome) {
	select {
	case o.decisionCh <- out:
	case <-o.ctx.Done():
	}
}

// applyDecision mutates phase state for one resolved turn. Runs on the loop
// goroutine only.
func (o *Orchestrator) applyDecision(out decisionOutcome, scheduleClose func(string)) {
	switch out.kind {
	case decideSmallTalk:
		if out.smallTalk == brain.SmallTalkHold {
			o.onHold = true
			o.say(holdAckLine())
			return
		}
		o.say(out.bridge)
		o.setPhase(PhaseInterview)
		if len(o.deps.Session.Questions) == 0 {
			o.enterQAndA(questionsExhaustedLine())
			return
		}
		o.sayAfter(o.policy.SmallTalkPause, o.deps.Session.Questions[0])

	case decideAnswer:
		switch out.answer.Action {
		case brain.AnswerHold:
			o.onHold = true
			o.say(holdAckLine())
		case brain.AnswerFollowUp:
			o.insideFollowUp = true
			o.say(out.answer.Probe)
		default:
			o.advanceQuestion(out.bridge)
		}

	case decideAdvance:
		o.insideFollowUp = false
		o.advanceQuestion(out.bridge)

	case decideQA:
		if out.qaDone || !o.now().Before(o.sessionDeadline) {
			o.say(closingLine())
			scheduleClose(protocol.ReasonComplete)
			return
		}
		o.say(out.qaAnswer)
		o.sayAfter(o.policy.BridgePause, qaRepromptLine())
	}
}

// advanceQuestion moves the cursor forward, speaking the next question if
// both questions and time remain, and otherwise handing over to open Q&A.
func (o *Orchestrator) advanceQuestion(bridge string) {
	o.cursor++
	remaining := o.sessionDeadline.Sub(o.now())
	if o.cursor < len(o.deps.Session.Questions) && remaining > o.policy.QuestionTimeFloor {
		o.say(bridge)
		o.sayAfter(o.policy.BridgePause, o.deps.Session.Questions[o.cursor])
		return
	}
	o.say(bridge)
	if o.cursor >= len(o.deps.Session.Questions) {
		o.enterQAndA(questionsExhaustedLine())
	} else {
		o.enterQAndA(outOfTimeLine())
	}
}

func (o *Orchestrator) enterQAndA(prompt string) {
	o.setPhase(PhaseQAndA)
	o.sayAfter(o.policy.BridgePause, prompt)
}

func (o *Orchestrator) currentQuestion() string {
	if o.cursor < len(o.deps.Session.Questions) {
		return o.deps.Session.Questions[o.cursor]
	}
	return ""
}

func (o *Orchestrator) speakGreeting() {
	o.say(greetingLine(o.deps.Session))
}

// say queues one utterance for the speaker goroutine.
func (o *Orchestrator) say(text string) { o.sayAfter(0, text) }

func (o *Orchestrator) sayAfter(pause time.Duration, text string) {
	if text == "" {
		return
	}
	req := speakReq{text: text, pauseBefore: pause, persist: o.deps.Mode == ModePipeline}
	select {
	case o.speakCh <- req:
	case <-o.ctx.Done():
	}
}

// speaker serializes speech dispatch so multi-part utterances keep their
// order and their pauses. The transcript entry is written before the audio is
// requested.
func (o *Orchestrator) speaker() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case req := <-o.speakCh:
			if req.pauseBefore > 0 {
				select {
				case <-time.After(req.pauseBefore):
				case <-o.ctx.Done():
					return
				}
			}
			if req.persist {
				o.persist(store.SpeakerInterviewer, req.text)
			}
			if err := o.deps.Upstream.Speak(o.ctx, req.text); err != nil {
				if o.ctx.Err() == nil {
					o.log.Warn("speech dispatch failed", "error", err)
				}
			}
		}
	}
}

// persist appends a transcript entry. Write errors are logged, never allowed
// to stall the conversation.
func (o *Orchestrator) persist(speaker store.Speaker, text string) {
	entry := &store.TranscriptEntry{
		SessionID: o.deps.Session.ID,
		Speaker:   speaker,
		Text:      text,
		CreatedAt: o.now(),
	}
	if err := o.deps.Store.AppendTranscript(o.ctx, entry); err != nil {
		o.log.Warn("transcript append failed", "speaker", speaker, "error", err)
	}
}

func (o *Orchestrator) send(msg any) {
	if err := o.deps.Out.Send(msg); err != nil && o.ctx.Err() == nil {
		o.log.Warn("outbound send failed", "error", err)
	}
}

// finish performs the terminal half of the termination sequence: one
// call_ended frame (when the client is reachable), upstream closed, loop
// exits. notifyClient is false when the client itself went away.
func (o *Orchestrator) finish(reason string, notifyClient bool) {
	if notifyClient {
		o.send(protocol.NewCallEnded(reason))
	}
	if err := o.deps.Upstream.Close(); err != nil {
		o.log.Warn("close upstream", "error", err)
	}
	o.log.Info("session terminated", "reason", reason, "phase", o.Phase())
}

// Time-remaining notes, realtime mode only. Marks are minutes-remaining
// checkpoints pushed into the upstream conversation so the model paces
// itself.

func (o *Orchestrator) scheduleTimeNotes(start time.Time) {
	if o.deps.Mode != ModeRealtime {
		return
	}
	if _, ok := o.deps.Upstream.(noteInjector); !ok {
		return
	}
	total := o.sessionDeadline.Sub(start)
	for _, mark := range []time.Duration{15 * time.Minute, 10 * time.Minute, 5 * time.Minute, 3 * time.Minute, time.Minute} {
		if mark < total {
			o.noteMarks = append(o.noteMarks, mark)
		}
	}
}

func (o *Orchestrator) nextNoteTimer() (*time.Timer, <-chan time.Time) {
	if len(o.noteMarks) == 0 {
		return nil, nil
	}
	mark := o.noteMarks[0]
	d := o.sessionDeadline.Add(-mark).Sub(o.now())
	if d < 0 {
		d = 0
	}
	t := time.NewTimer(d)
	return t, t.C
}

func (o *Orchestrator) injectTimeNote() {
	if len(o.noteMarks) == 0 {
		return
	}
	mark := o.noteMarks[0]
	o.noteMarks = o.noteMarks[1:]
	inj, ok := o.deps.Upstream.(noteInjector)
	if !ok {
		return
	}
	minutes := int(mark / time.Minute)
	go func() {
		note := timeRemainingNote(minutes)
		if err := inj.InjectNote(o.ctx, note); err != nil && o.ctx.Err() == nil {
			o.log.Warn("time note injection failed", "minutes", minutes, "error", err)
		}
	}()
}
