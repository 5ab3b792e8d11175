package orchestration

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/JSluo888/MedJourney-sub000/core/events"
	"github.com/JSluo888/MedJourney-sub000/core/media"
	"github.com/JSluo888/MedJourney-sub000/core/signaling"
	"github.com/JSluo888/MedJourney-sub000/core/turnstate"
	"github.com/google/uuid"
)

var errNoRecorder = fmt.Errorf("%w: no recorder configured", ErrRecordingUnavailable)

// execute runs on the effect runtime goroutine. Results that feed back into
// the turn state are dispatched as events.
func (o *Orchestrator) execute(effect turnstate.Effect) {
	ctx := o.baseContext

	switch effect := effect.(type) {
	case turnstate.StartPublishing:
		if err := o.media.StartPublishing(ctx); err != nil {
			o.reportError(err)
		}
	case turnstate.StopPublishing:
		if err := o.media.StopPublishing(ctx); err != nil {
			logger.Warn("failed to stop publishing", "error", err)
		}

	case turnstate.StartRecorder:
		if o.recorder == nil {
			o.dispatch(events.NewRecordingFailed(errNoRecorder))
			return
		}
		if err := o.recorder.Start(ctx); err != nil {
			o.dispatch(events.NewRecordingFailed(fmt.Errorf("%w: %w", ErrRecordingUnavailable, err)))
		}
	case turnstate.FinalizeRecorder:
		o.finalizeRecording(effect.TurnID)
	case turnstate.DiscardRecorder:
		if o.recorder != nil {
			o.recorder.Discard()
		}

	case turnstate.SendStartVoiceSession:
		o.signaling.Send(signaling.TypeStartVoiceSession, signaling.StartVoiceSessionPayload{TurnID: effect.TurnID})
	case turnstate.SendText:
		o.signaling.Send(signaling.TypeTextMessage, signaling.TextMessagePayload{Text: effect.Text, TurnID: effect.TurnID})
	case turnstate.SendImage:
		o.signaling.Send(signaling.TypeImageUpload, signaling.ImageUploadPayload{
			FileName: effect.FileName,
			Image:    base64.StdEncoding.EncodeToString(effect.Data),
			MimeType: http.DetectContentType(effect.Data),
			TurnID:   effect.TurnID,
		})
	case turnstate.SendVoice:
		o.signaling.Send(signaling.TypeVoiceMessage, signaling.VoiceMessagePayload{
			Audio:      base64.StdEncoding.EncodeToString(effect.Audio),
			MimeType:   effect.MimeType,
			SampleRate: effect.SampleRate,
			TurnID:     effect.TurnID,
		})
	case turnstate.SendInterrupt:
		o.signaling.Send(signaling.TypeInterrupt, signaling.InterruptPayload{TurnID: effect.TurnID})

	case turnstate.EmitMessage:
		if o.callbacks.onMessage != nil {
			o.callbacks.onMessage(effect.Message)
		}
	case turnstate.EmitStatus:
		if o.callbacks.onStatusChange != nil {
			o.callbacks.onStatusChange(effect.Turn)
		}
	case turnstate.EmitError:
		o.reportError(effect.Err)
	case turnstate.EmitWarning:
		o.reportWarning(effect.Err)

	default:
		logger.Warn("unhandled effect", "effect", fmt.Sprintf("%T", effect))
	}
}

func (o *Orchestrator) finalizeRecording(turnID string) {
	if o.recorder == nil {
		o.dispatch(events.NewRecordingEmpty(turnID, ErrNoRecording))
		return
	}

	recording, err := o.recorder.Stop()
	if err != nil {
		o.dispatch(events.NewRecordingEmpty(turnID, err))
		return
	}

	info := o.recorder.EncodingInfo()
	o.dispatch(events.NewRecordingFinalized(
		turnID,
		uuid.NewString(),
		uuid.NewString(),
		recording,
		info.MimeType(),
		info.SampleRate,
		info.Duration(len(recording)),
	))
}

func (o *Orchestrator) bindSignaling() {
	if o.signaling == nil {
		return
	}

	o.signaling.OnMessage(signaling.TypeAgentStatus, func(envelope signaling.Envelope) {
		var payload signaling.AgentStatusPayload
		if err := envelope.Decode(&payload); err != nil {
			logger.Warn("malformed agent status", "error", err)
			return
		}
		o.dispatch(events.NewAgentStatusReceived(payload.Status))
	})
	o.signaling.OnMessage(signaling.TypeAgentResponse, func(envelope signaling.Envelope) {
		var payload signaling.AgentResponsePayload
		if err := envelope.Decode(&payload); err != nil {
			logger.Warn("malformed agent response", "error", err)
			return
		}
		o.dispatch(events.NewAgentResponseReceived(
			uuid.NewString(),
			payload.TurnID,
			payload.Text,
			payload.AudioURL,
			payload.PlaybackDuration(),
		))
	})
	o.signaling.OnMessage(signaling.TypeError, func(envelope signaling.Envelope) {
		var payload signaling.ErrorPayload
		if err := envelope.Decode(&payload); err != nil {
			logger.Warn("malformed agent error", "error", err)
			return
		}
		o.dispatch(events.NewAgentErrorReceived(payload.Text()))
	})
	o.signaling.OnConnectionChange(func(event signaling.ConnectionEvent) {
		o.dispatch(events.NewSignalingConnectionChanged(event.Connected, event.Terminal, event.Attempts, event.Err))
	})
}

func (o *Orchestrator) bindMedia() {
	if o.media == nil {
		return
	}

	o.media.OnRemoteTrackAvailable(func(user media.RemoteUser) {
		o.dispatch(events.NewRemoteTrackAvailable(user.UID))
	})
	o.media.OnRemoteTrackEnded(func(user media.RemoteUser) {
		o.dispatch(events.NewRemotePlaybackEnded(user.UID))
	})
	o.media.OnConnectionChange(func(connected bool, err error) {
		o.dispatch(events.NewMediaConnectionChanged(connected, err))
	})
	o.media.OnError(func(err error) {
		// connection loss is already reported through the turn state
		o.mu.Lock()
		connected := o.state.Health.MediaConnected
		o.mu.Unlock()
		if connected {
			o.runtime.enqueue(turnstate.EmitWarning{Err: err})
		}
	})
}
