package turnstate

import "time"

// Effect is an action the caller performs after a transition. Effects are
// returned in the order they must be executed.
type Effect interface {
	effect()
}

type StartPublishing struct{}
type StopPublishing struct{}

type StartRecorder struct{ TurnID string }
type FinalizeRecorder struct{ TurnID string }

// DiscardRecorder stops the recorder and drops whatever it captured.
type DiscardRecorder struct{}

// StopRemotePlayback must take effect before the caller returns control to
// the user.
type StopRemotePlayback struct{}

type SendStartVoiceSession struct{ TurnID string }
type SendText struct {
	TurnID string
	Text   string
}
type SendImage struct {
	TurnID   string
	FileName string
	Data     []byte
}
type SendVoice struct {
	TurnID     string
	Audio      []byte
	MimeType   string
	SampleRate int
}
type SendInterrupt struct{ TurnID string }

type StartProcessingTimer struct{ TurnID string }
type CancelProcessingTimer struct{}
type StartSpeakingTimer struct {
	TurnID   string
	Duration time.Duration
}
type CancelSpeakingTimer struct{}

type EmitMessage struct{ Message Message }
type EmitStatus struct{ Turn Turn }
type EmitError struct{ Err error }
type EmitWarning struct{ Err error }

func (StartPublishing) effect()       {}
func (StopPublishing) effect()        {}
func (StartRecorder) effect()         {}
func (FinalizeRecorder) effect()      {}
func (DiscardRecorder) effect()       {}
func (StopRemotePlayback) effect()    {}
func (SendStartVoiceSession) effect() {}
func (SendText) effect()              {}
func (SendImage) effect()             {}
func (SendVoice) effect()             {}
func (SendInterrupt) effect()         {}
func (StartProcessingTimer) effect()  {}
func (CancelProcessingTimer) effect() {}
func (StartSpeakingTimer) effect()    {}
func (CancelSpeakingTimer) effect()   {}
func (EmitMessage) effect()           {}
func (EmitStatus) effect()            {}
func (EmitError) effect()             {}
func (EmitWarning) effect()           {}
