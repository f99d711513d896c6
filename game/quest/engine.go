package quest

import (
	"time"

	"github.com/miyako/questforge/game/event"
	"github.com/miyako/questforge/game/objective"
	"github.com/miyako/questforge/game/progress"
	"go.uber.org/zap"
)

// Completion identifies a quest instance that reached COMPLETED this pass.
type Completion struct {
	InstanceID string
	QuestID    string
}

// Result reports what one event changed: snapshots of every mutated instance
// (for client updates) and the completions among them.
type Result struct {
	Changed   []*progress.QuestProgress
	Completed []Completion
}

// Engine is the single entry point turning game events into typed progress.
// It is invoked from the per-player event-delivery path: within one process
// all events for a player arrive sequentially, so nothing here races on the
// same QuestProgress.
type Engine struct {
	reg      *Registry
	notifier *Notifier // optional
	logger   *zap.Logger
}

// NewEngine creates an Engine over the given registry. notifier may be nil.
func NewEngine(reg *Registry, notifier *Notifier, logger *zap.Logger) *Engine {
	return &Engine{reg: reg, notifier: notifier, logger: logger}
}

// HandleEvent evaluates one game event against every ACTIVE quest instance of
// the acting player. Each eligible objective is evaluated independently and
// exactly once, so one event advances at most one increment per objective.
// Changed records are persisted once per player per pass, asynchronously.
func (e *Engine) HandleEvent(p objective.Player, ev event.Event) Result {
	var res Result
	if ev.PlayerID != p.ID() {
		return res
	}
	now := time.Now()

	r := e.reg
	r.mu.Lock()
	rec, ok := r.players[p.ID()]
	if !ok {
		r.mu.Unlock()
		return res
	}

	for _, qp := range rec.Active {
		if qp.State != progress.StateActive {
			continue
		}
		def, ok := r.defs[qp.QuestID]
		if !ok {
			continue // definition removed; progress is frozen, not dropped
		}
		if e.advanceQuest(def, qp, ev, p, now) {
			qp.Touch(now)
			res.Changed = append(res.Changed, qp.Snapshot())
			if qp.State == progress.StateCompleted {
				res.Completed = append(res.Completed, Completion{
					InstanceID: qp.InstanceID,
					QuestID:    qp.QuestID,
				})
			}
		}
	}

	if len(res.Changed) > 0 {
		rec.LastUpdated = now
		r.persistLocked(rec)
	}
	r.mu.Unlock()

	for _, c := range res.Completed {
		e.logger.Info("quest completed",
			zap.String("player_id", p.ID()),
			zap.String("quest_id", c.QuestID),
			zap.String("instance_id", c.InstanceID))
		if e.notifier != nil {
			e.notifier.QuestCompleted(p.ID(), c.QuestID, c.InstanceID)
		}
	}
	return res
}

// advanceQuest applies the event to one instance and reports whether anything
// changed. Sequential quests only expose the objective at CurrentIndex;
// events matching a later objective are intentionally dropped. Steps cannot
// be skipped, and out-of-order progress earns no retroactive credit.
func (e *Engine) advanceQuest(def *Definition, qp *progress.QuestProgress, ev event.Event, p objective.Player, now time.Time) bool {
	changed := false
	for _, o := range e.eligible(def, qp) {
		op, ok := qp.Objectives[o.ID]
		if !ok || op.Completed {
			continue
		}
		if !objective.CanProgress(o, ev, p) {
			continue
		}
		applied := op.Apply(objective.Increment(o, ev, p), now)
		if applied == 0 {
			continue
		}
		objective.Consume(o, p, applied)
		changed = true
		if op.Completed && def.Sequential {
			e.advanceIndex(def, qp)
		}
	}
	if changed && qp.AllCompleted() {
		qp.Complete(now)
	}
	return changed
}

// eligible returns the objectives allowed to receive increments right now.
func (e *Engine) eligible(def *Definition, qp *progress.QuestProgress) []objective.Objective {
	if !def.Sequential {
		return def.Objectives
	}
	if qp.CurrentIndex < 0 || qp.CurrentIndex >= len(def.Objectives) {
		return nil
	}
	return def.Objectives[qp.CurrentIndex : qp.CurrentIndex+1]
}

// advanceIndex moves CurrentIndex past every completed objective.
func (e *Engine) advanceIndex(def *Definition, qp *progress.QuestProgress) {
	for qp.CurrentIndex < len(def.Objectives) {
		op, ok := qp.Objectives[def.Objectives[qp.CurrentIndex].ID]
		if !ok || !op.Completed {
			return
		}
		qp.CurrentIndex++
	}
}
