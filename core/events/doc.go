// Package events defines the typed event contract consumed by the turn
// reducer.
//
// Event kinds are grouped by the source that observes them:
//
//   - user.*
//   - agent.*
//   - media.*
//   - signaling.*
//   - recording.*
//   - timer.*
//
// Every event carries the local time it was observed. Ordering in the
// conversation history follows observation order, not wire arrival order.
//
// user events
//
//   - RecordingRequested (user.recording_requested): push-to-talk pressed.
//   - RecordingStopRequested (user.recording_stop_requested): push-to-talk
//     released.
//   - TextSubmitted (user.text_submitted): typed message, carries the ids
//     allocated for the new turn.
//   - ImageSubmitted (user.image_submitted): image upload, starts a turn like
//     text.
//   - InterruptRequested (user.interrupt_requested): cancel the agent reply
//     and hand control back to the user.
//
// agent events
//
//   - AgentStatusReceived (agent.status): agent_status control message.
//   - AgentResponseReceived (agent.response): agent_response content message.
//   - AgentErrorReceived (agent.error): error message reported by the agent.
//
// media events
//
//   - RemoteTrackAvailable (media.remote_track_available): a remote audio
//     track was subscribed and is playing.
//   - RemotePlaybackEnded (media.remote_playback_ended): remote audio finished
//     playing.
//   - MediaConnectionChanged (media.connection_changed): media transport
//     connectivity changed.
//
// signaling events
//
//   - SignalingConnectionChanged (signaling.connection_changed): control
//     channel connectivity changed; Terminal marks exhausted reconnection.
//
// recording events
//
//   - RecordingFinalized (recording.finalized): bytes captured for the turn.
//   - RecordingEmpty (recording.empty): nothing was captured.
//   - RecordingFailed (recording.failed): the recorder could not start; the
//     turn degrades to text-only.
//
// timer events
//
//   - ProcessingTimedOut (timer.processing_timed_out): no agent reply within
//     the processing window.
//   - SpeakingTimedOut (timer.speaking_timed_out): no playback end observed
//     within the announced reply duration.
package events
