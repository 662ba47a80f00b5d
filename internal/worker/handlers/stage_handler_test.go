package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"nvisy/internal/job"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

type fakeProcessor struct {
	called   bool
	gotJobID uuid.UUID
	deadline bool
	retErr   error
}

func (f *fakeProcessor) Process(ctx context.Context, env *job.Envelope[job.ProcessingData]) error {
	f.called = true
	f.gotJobID = env.ID
	_, f.deadline = ctx.Deadline()
	return f.retErr
}

func marshalEnvelope(t *testing.T, env *job.Envelope[job.ProcessingData]) []byte {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("序列化信封失败: %v", err)
	}
	return raw
}

func TestStageHandlerHandle_Success(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewStageHandler[job.ProcessingData](job.StageProcessing, proc, zaptest.NewLogger(t))

	env := job.New(uuid.New(), job.ProcessingData{Prompt: "清理页眉"})
	if err := h.Handle(context.Background(), marshalEnvelope(t, env)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !proc.called || proc.gotJobID != env.ID {
		t.Fatalf("processor not invoked correctly: called=%v id=%s", proc.called, proc.gotJobID)
	}
	if !proc.deadline {
		t.Fatal("处理上下文应携带信封超时")
	}
}

func TestStageHandlerHandle_ProcessError(t *testing.T) {
	expectedErr := errors.New("boom")
	proc := &fakeProcessor{retErr: expectedErr}
	h := NewStageHandler[job.ProcessingData](job.StageProcessing, proc, zaptest.NewLogger(t))

	env := job.New(uuid.New(), job.ProcessingData{Prompt: "x"})
	if err := h.Handle(context.Background(), marshalEnvelope(t, env)); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

// 解码失败是终结性的：不触发处理器，也不向上返回错误
func TestStageHandlerHandle_InvalidPayloadIsTerminal(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewStageHandler[job.ProcessingData](job.StageProcessing, proc, zaptest.NewLogger(t))

	if err := h.Handle(context.Background(), []byte("not-json")); err != nil {
		t.Fatalf("坏消息应按成功返回以免反复重投, got %v", err)
	}
	if proc.called {
		t.Fatal("processor should not be called when payload invalid")
	}
}

func TestStageHandlerHandle_TimeoutApplied(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewStageHandler[job.ProcessingData](job.StageProcessing, proc, zaptest.NewLogger(t))

	env := job.New(uuid.New(), job.ProcessingData{Prompt: "x"}).WithTimeout(time.Minute)
	if err := h.Handle(context.Background(), marshalEnvelope(t, env)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !proc.deadline {
		t.Fatal("处理上下文应携带信封超时")
	}
}
