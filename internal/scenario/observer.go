package scenario

import (
	"time"

	"go.uber.org/zap"
)

// PhaseReport describes a phase that just ended.
type PhaseReport struct {
	Phase      Phase
	Index      int
	Batches    int
	Dispatched int64
	Elapsed    time.Duration
	Cancelled  bool
}

// Observer is notified as the engine moves between phases. Calls happen on
// the engine goroutine and must not block.
type Observer interface {
	PhaseStarted(index int, p Phase)
	PhaseFinished(r PhaseReport)
}

type nopObserver struct{}

func (nopObserver) PhaseStarted(int, Phase)   {}
func (nopObserver) PhaseFinished(PhaseReport) {}

// Observers fans notifications out in order.
type Observers []Observer

func (o Observers) PhaseStarted(index int, p Phase) {
	for _, obs := range o {
		obs.PhaseStarted(index, p)
	}
}

func (o Observers) PhaseFinished(r PhaseReport) {
	for _, obs := range o {
		obs.PhaseFinished(r)
	}
}

// LogObserver logs phase transitions.
type LogObserver struct {
	Logger *zap.Logger
}

func (l LogObserver) PhaseStarted(index int, p Phase) {
	fields := []zap.Field{
		zap.Int("phase", index+1),
		zap.String("name", p.Name),
		zap.String("kind", p.Kind()),
		zap.Int("batch", p.BatchSize()),
		zap.Duration("duration", p.Duration),
	}
	if p.Batches > 0 {
		fields = append(fields, zap.Int("batches", p.Batches))
	}
	l.Logger.Info("phase started", fields...)
}

func (l LogObserver) PhaseFinished(r PhaseReport) {
	l.Logger.Info("phase finished",
		zap.Int("phase", r.Index+1),
		zap.String("name", r.Phase.Name),
		zap.Int("batches", r.Batches),
		zap.Int64("dispatched", r.Dispatched),
		zap.Duration("elapsed", r.Elapsed),
		zap.Bool("cancelled", r.Cancelled),
	)
}
