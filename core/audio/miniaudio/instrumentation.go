package miniaudio

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/JSluo888/MedJourney-sub000/core/audio/miniaudio"

var logger = otelslog.NewLogger(scopeName)
