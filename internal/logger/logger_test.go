package logger_test

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nyash/nyashd/internal/logger"
)

func Test_Zap_Attaches_Request_ID_When_Present(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewZap(zap.New(core))

	ctx := logger.WithRequestID(context.Background(), "req-1")
	log.InfofCtx(ctx, "issued job %d", 7)
	log.ErrorfCtx(context.Background(), "plain")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	if entries[0].Message != "issued job 7" {
		t.Fatalf("message = %q, want %q", entries[0].Message, "issued job 7")
	}

	if got := entries[0].ContextMap()["request_id"]; got != "req-1" {
		t.Fatalf("request_id = %v, want req-1", got)
	}

	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Fatal("request_id must be absent when the context has none")
	}

	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("level = %v, want error", entries[1].Level)
	}
}

func Test_New_Rejects_Unknown_Format_And_Level(t *testing.T) {
	t.Parallel()

	if _, err := logger.New(logger.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}

	if _, err := logger.New(logger.Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}

	l, err := logger.New(logger.Options{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.DebugfCtx(context.Background(), "ok")
}

func Test_Noop_Satisfies_Logger(t *testing.T) {
	t.Parallel()

	var log logger.Logger = logger.Noop{}
	log.InfofCtx(context.Background(), "nothing %d", 1)
}
