package pipeline

import (
	"context"
	"log/slog"

	"seylanebot/internal/service/instagram"
)

// Submitter runs keyed jobs one at a time per key. *worker.Dispatcher fits.
type Submitter interface {
	Submit(key string, fn func(ctx context.Context)) error
}

// Pipeline ties intake and the orchestrator together behind the webhook.
type Pipeline struct {
	intake       *Intake
	orchestrator *Orchestrator
	submitter    Submitter
	logger       *slog.Logger
}

// New builds a pipeline. A nil submitter runs every event on its own goroutine.
func New(intake *Intake, orchestrator *Orchestrator, submitter Submitter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{intake: intake, orchestrator: orchestrator, submitter: submitter, logger: logger}
}

// Dispatch schedules ev and returns without waiting for the reply.
func (p *Pipeline) Dispatch(ev *instagram.InboundEvent) error {
	if ev == nil {
		return nil
	}
	job := func(ctx context.Context) { p.Handle(ctx, ev) }
	if p.submitter == nil {
		go job(context.Background())
		return nil
	}
	return p.submitter.Submit(ev.SenderID, job)
}

// Handle runs intake and, when the message should be answered, the turn.
func (p *Pipeline) Handle(ctx context.Context, ev *instagram.InboundEvent) {
	turn, answer, err := p.intake.Accept(ctx, ev)
	if err != nil {
		p.logger.Error("intake failed", "sender_id", ev.SenderID, "error", err)
		return
	}
	if !answer {
		return
	}
	p.orchestrator.ProcessTurn(ctx, turn)
}
