package strata

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSignals(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	LogSignals(zap.New(core))

	rt := New(oneReducer(func(any) (any, error) { return nil, errors.New("boom") })).SyncMode()
	if _, err := rt.Start(context.Background(), Sources{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rt.Stop()

	mine := func(name string) *observer.ObservedLogs {
		return logs.FilterMessage(name).FilterField(zap.String(KeyRuntime.Name(), rt.ID()))
	}

	eventually(t, func() bool {
		return mine(RuntimeStarted.Name()).Len() > 0 &&
			mine(ReducerFailed.Name()).Len() > 0 &&
			mine(RuntimeStopped.Name()).Len() > 0
	})

	started := mine(RuntimeStarted.Name()).All()[0]
	if started.Level != zapcore.InfoLevel {
		t.Errorf("expected info for %s, got %s", RuntimeStarted.Name(), started.Level)
	}
	failed := mine(ReducerFailed.Name()).All()[0]
	if failed.Level != zapcore.ErrorLevel {
		t.Errorf("expected error for %s, got %s", ReducerFailed.Name(), failed.Level)
	}
	if failed.ContextMap()[KeyError.Name()] == nil {
		t.Error("expected the error message as a field")
	}
	if mine(ReducerApplied.Name()).Len() != 0 {
		t.Error("expected no applied entry for a failing reducer")
	}
}
