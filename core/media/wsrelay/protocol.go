package wsrelay

import (
	"encoding/binary"
	"errors"
)

// Control message types exchanged as JSON text frames.
const (
	TypeJoin            = "join"
	TypeJoined          = "joined"
	TypeLeave           = "leave"
	TypePublish         = "publish"
	TypeUnpublish       = "unpublish"
	TypeSubscribe       = "subscribe"
	TypeUserPublished   = "user-published"
	TypeUserUnpublished = "user-unpublished"
	TypeError           = "error"
)

type ControlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	UID     string `json:"uid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

var ErrMalformedFrame = errors.New("malformed audio frame")

// EncodeAudioFrame prefixes raw audio with the sender uid: a big endian
// uint16 length followed by the uid bytes.
func EncodeAudioFrame(uid string, audio []byte) []byte {
	frame := make([]byte, 2+len(uid)+len(audio))
	binary.BigEndian.PutUint16(frame, uint16(len(uid)))
	copy(frame[2:], uid)
	copy(frame[2+len(uid):], audio)
	return frame
}

func DecodeAudioFrame(frame []byte) (uid string, audio []byte, err error) {
	if len(frame) < 2 {
		return "", nil, ErrMalformedFrame
	}
	uidLength := int(binary.BigEndian.Uint16(frame))
	if len(frame) < 2+uidLength {
		return "", nil, ErrMalformedFrame
	}
	return string(frame[2 : 2+uidLength]), frame[2+uidLength:], nil
}
