package strata

import (
	"context"

	"github.com/zoobzio/capitan"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// signalLevels maps signals to the level they are logged at. Signals not
// listed log at debug.
var signalLevels = map[string]zapcore.Level{
	RuntimeStarted.Name():       zapcore.InfoLevel,
	RuntimeStopped.Name():       zapcore.InfoLevel,
	RuntimeStatusChanged.Name(): zapcore.InfoLevel,
	FeedbackBound.Name():        zapcore.InfoLevel,
	KeyCollision.Name():         zapcore.WarnLevel,
	HydrateFailed.Name():        zapcore.WarnLevel,
	WatcherError.Name():         zapcore.WarnLevel,
	ReducerFailed.Name():        zapcore.ErrorLevel,
}

// LogSignals writes every strata signal to logger as a structured entry
// named after the signal. Call it once at startup.
func LogSignals(logger *zap.Logger) {
	for _, sig := range Signals {
		name := sig.Name()
		level, ok := signalLevels[name]
		if !ok {
			level = zapcore.DebugLevel
		}
		capitan.Hook(sig, func(_ context.Context, e *capitan.Event) {
			if ce := logger.Check(level, name); ce != nil {
				ce.Write(eventFields(e)...)
			}
		})
	}
}

// eventFields converts the strata fields present on e.
func eventFields(e *capitan.Event) []zap.Field {
	var fields []zap.Field
	for _, k := range []capitan.StringKey{
		KeyRuntime, KeyChannel, KeyOldStatus, KeyNewStatus,
		KeyMember, KeySelector, KeyOperator, KeySource, KeyContentType, KeyError,
	} {
		if v, ok := k.From(e); ok {
			fields = append(fields, zap.String(k.Name(), v))
		}
	}
	if v, ok := KeyCount.From(e); ok {
		fields = append(fields, zap.Int(KeyCount.Name(), v))
	}
	if v, ok := KeyDuration.From(e); ok {
		fields = append(fields, zap.Duration(KeyDuration.Name(), v))
	}
	return fields
}
