package events

const KindSignalingConnectionChanged Kind = "signaling.connection_changed"

// SignalingConnectionChanged reports control channel connectivity. Terminal
// is set once reconnection has been exhausted.
type SignalingConnectionChanged struct {
	Base
	Connected bool
	Terminal  bool
	Attempts  int
	Err       error
}

func NewSignalingConnectionChanged(connected, terminal bool, attempts int, err error) SignalingConnectionChanged {
	return SignalingConnectionChanged{
		Base:      NewBase(KindSignalingConnectionChanged),
		Connected: connected,
		Terminal:  terminal,
		Attempts:  attempts,
		Err:       err,
	}
}
