package events

import "time"

const (
	KindRecordingFinalized Kind = "recording.finalized"
	KindRecordingEmpty     Kind = "recording.empty"
	KindRecordingFailed    Kind = "recording.failed"
)

// RecordingFinalized carries the captured utterance for a turn along with the
// ids allocated for the user message and the thinking placeholder.
type RecordingFinalized struct {
	Base
	TurnID        string
	MessageID     string
	PlaceholderID string
	Audio         []byte
	MimeType      string
	SampleRate    int
	Duration      time.Duration
}

func NewRecordingFinalized(turnID, messageID, placeholderID string, audio []byte, mimeType string, sampleRate int, duration time.Duration) RecordingFinalized {
	return RecordingFinalized{
		Base:          NewBase(KindRecordingFinalized),
		TurnID:        turnID,
		MessageID:     messageID,
		PlaceholderID: placeholderID,
		Audio:         audio,
		MimeType:      mimeType,
		SampleRate:    sampleRate,
		Duration:      duration,
	}
}

type RecordingEmpty struct {
	Base
	TurnID string
	Err    error
}

func NewRecordingEmpty(turnID string, err error) RecordingEmpty {
	return RecordingEmpty{Base: NewBase(KindRecordingEmpty), TurnID: turnID, Err: err}
}

type RecordingFailed struct {
	Base
	Err error
}

func NewRecordingFailed(err error) RecordingFailed {
	return RecordingFailed{Base: NewBase(KindRecordingFailed), Err: err}
}
