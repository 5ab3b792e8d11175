package events

const (
	KindProcessingTimedOut Kind = "timer.processing_timed_out"
	KindSpeakingTimedOut   Kind = "timer.speaking_timed_out"
)

type ProcessingTimedOut struct {
	Base
	TurnID string
}

func NewProcessingTimedOut(turnID string) ProcessingTimedOut {
	return ProcessingTimedOut{Base: NewBase(KindProcessingTimedOut), TurnID: turnID}
}

type SpeakingTimedOut struct {
	Base
	TurnID string
}

func NewSpeakingTimedOut(turnID string) SpeakingTimedOut {
	return SpeakingTimedOut{Base: NewBase(KindSpeakingTimedOut), TurnID: turnID}
}
