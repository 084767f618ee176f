package generator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/metrics"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/rag/chain"
)

// Stage is a step of the request state machine.
type Stage string

const (
	StageValidatingAccess    Stage = "VALIDATING_ACCESS"
	StageResolvingActiveDocs Stage = "RESOLVING_ACTIVE_DOCS"
	StageBuildingChain       Stage = "BUILDING_CHAIN"
	StageReformulating       Stage = "REFORMULATING"
	StageRetrieving          Stage = "RETRIEVING"
	StageSynthesizing        Stage = "SYNTHESIZING"
	StagePersisting          Stage = "PERSISTING"
	StageDone                Stage = "DONE"
	StageFailed              Stage = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

func stageForPhase(p chain.Phase) Stage {
	switch p {
	case chain.PhaseReformulating:
		return StageReformulating
	case chain.PhaseRetrieving:
		return StageRetrieving
	default:
		return StageSynthesizing
	}
}

// Tracker follows one request through its stages, logging every transition
// and counting it per mode.
type Tracker struct {
	mu    sync.Mutex
	log   logrus.FieldLogger
	mode  string
	stage Stage
}

func NewTracker(log logrus.FieldLogger, mode string) *Tracker {
	return &Tracker{log: logger.OrDiscard(log), mode: mode}
}

// Enter moves to s. Transitions out of a terminal stage are ignored.
func (t *Tracker) Enter(s Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stage.Terminal() {
		return
	}
	t.log.WithFields(logrus.Fields{"mode": t.mode, "from": string(t.stage), "to": string(s)}).Debug("request stage")
	t.stage = s
	metrics.ObserveStage(string(s), t.mode)
}

func (t *Tracker) Stage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

func (t *Tracker) Mode() string { return t.mode }

type trackerKey struct{}

// WithTracker attaches t to ctx so the generator reports its stages to it.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

func trackerFrom(ctx context.Context, log logrus.FieldLogger, mode string) *Tracker {
	if t, ok := ctx.Value(trackerKey{}).(*Tracker); ok && t != nil {
		return t
	}
	return NewTracker(log, mode)
}
