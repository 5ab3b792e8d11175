package events

const (
	KindRecordingRequested     Kind = "user.recording_requested"
	KindRecordingStopRequested Kind = "user.recording_stop_requested"
	KindTextSubmitted          Kind = "user.text_submitted"
	KindImageSubmitted         Kind = "user.image_submitted"
	KindInterruptRequested     Kind = "user.interrupt_requested"
)

// RecordingRequested carries the turn id allocated for the utterance.
type RecordingRequested struct {
	Base
	TurnID string
}

func NewRecordingRequested(turnID string) RecordingRequested {
	return RecordingRequested{Base: NewBase(KindRecordingRequested), TurnID: turnID}
}

type RecordingStopRequested struct{ Base }

func NewRecordingStopRequested() RecordingStopRequested {
	return RecordingStopRequested{Base: NewBase(KindRecordingStopRequested)}
}

// TextSubmitted carries the typed text plus the ids for the user message, the
// thinking placeholder and the turn.
type TextSubmitted struct {
	Base
	TurnID        string
	MessageID     string
	PlaceholderID string
	Text          string
}

func NewTextSubmitted(turnID, messageID, placeholderID, text string) TextSubmitted {
	return TextSubmitted{
		Base:          NewBase(KindTextSubmitted),
		TurnID:        turnID,
		MessageID:     messageID,
		PlaceholderID: placeholderID,
		Text:          text,
	}
}

type ImageSubmitted struct {
	Base
	TurnID        string
	MessageID     string
	PlaceholderID string
	FileName      string
	Data          []byte
}

func NewImageSubmitted(turnID, messageID, placeholderID, fileName string, data []byte) ImageSubmitted {
	return ImageSubmitted{
		Base:          NewBase(KindImageSubmitted),
		TurnID:        turnID,
		MessageID:     messageID,
		PlaceholderID: placeholderID,
		FileName:      fileName,
		Data:          data,
	}
}

// InterruptRequested carries the turn id of the utterance the user starts by
// interrupting.
type InterruptRequested struct {
	Base
	TurnID string
}

func NewInterruptRequested(turnID string) InterruptRequested {
	return InterruptRequested{Base: NewBase(KindInterruptRequested), TurnID: turnID}
}
