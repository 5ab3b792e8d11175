// Package config loads the companion's YAML configuration.
//
// Values may reference environment variables as ${VAR_NAME}. Durations use
// time.ParseDuration syntax:
//
//	agent:
//	  api_url: "http://localhost:8080"
//	  signaling_url: "ws://localhost:8080"
//	  media_url: "ws://localhost:8080/media"
//	user:
//	  id: "${USER}"
//	signaling:
//	  backoff: "exponential"      # constant, exponential
//	  reconnect_interval: "3s"
//	  max_backoff: "30s"
//	  max_attempts: 5
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "10s"
//	conversation:
//	  processing_timeout: "30s"
//	  level_poll_interval: "100ms"
//	  max_recording: "2m"
//	audio:
//	  backend: "miniaudio"        # miniaudio, portaudio, none
//	  buffer_size: 1024
//	logging:
//	  level: "info"
//	  file: "/tmp/companion.log"
//
// Omitted values keep the defaults from Default.
package config
