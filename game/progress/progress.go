package progress

import (
	"time"
)

// State is the lifecycle state of a quest instance.
type State string

const (
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateRewarded  State = "REWARDED"
)

// ObjectiveProgress is the mutable counter for one objective of one player's
// quest instance.
type ObjectiveProgress struct {
	ObjectiveID string
	Current     int
	Required    int
	Completed   bool
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Apply adds a clamped increment and returns how much was actually applied.
// Current never decreases and never exceeds Required; Completed flips to true
// exactly once and is never unset.
func (op *ObjectiveProgress) Apply(delta int, now time.Time) int {
	if delta <= 0 || op.Completed {
		return 0
	}
	remaining := op.Required - op.Current
	if delta > remaining {
		delta = remaining
	}
	if delta <= 0 {
		return 0
	}
	op.Current += delta
	if op.Current >= op.Required {
		op.Completed = true
		t := now
		op.CompletedAt = &t
	}
	return delta
}

func (op *ObjectiveProgress) clone() *ObjectiveProgress {
	c := *op
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// QuestProgress is one player's live instance of a quest definition. A player
// may hold independent instances of the same quest id when it is repeatable;
// instances are keyed by InstanceID.
type QuestProgress struct {
	InstanceID string
	QuestID    string
	PlayerID   string
	State      State
	// CurrentIndex is meaningful only for sequential quests: objectives below
	// it are all completed, and only the objective at it may progress.
	CurrentIndex  int
	Objectives    map[string]*ObjectiveProgress
	StartedAt     time.Time
	CompletedAt   *time.Time
	LastUpdatedAt time.Time
}

// AllCompleted reports whether every objective counter is completed.
func (qp *QuestProgress) AllCompleted() bool {
	for _, op := range qp.Objectives {
		if !op.Completed {
			return false
		}
	}
	return len(qp.Objectives) > 0
}

// Complete transitions ACTIVE → COMPLETED. Refused silently from any other
// state.
func (qp *QuestProgress) Complete(now time.Time) bool {
	if qp.State != StateActive {
		return false
	}
	qp.State = StateCompleted
	t := now
	qp.CompletedAt = &t
	qp.LastUpdatedAt = now
	return true
}

// Touch records a mutation time.
func (qp *QuestProgress) Touch(now time.Time) {
	qp.LastUpdatedAt = now
}

// Snapshot returns a deep copy safe to hand to external readers. Mutating the
// copy cannot bypass the engine's single-writer discipline.
func (qp *QuestProgress) Snapshot() *QuestProgress {
	c := *qp
	if qp.CompletedAt != nil {
		t := *qp.CompletedAt
		c.CompletedAt = &t
	}
	c.Objectives = make(map[string]*ObjectiveProgress, len(qp.Objectives))
	for id, op := range qp.Objectives {
		c.Objectives[id] = op.clone()
	}
	return &c
}

// CompletedQuestSummary is the permanent record once an instance leaves the
// active set.
type CompletedQuestSummary struct {
	QuestID         string
	CompletedAt     time.Time
	CompletionCount int
	Rewarded        bool
}

// PlayerQuestRecord is the persisted per-player aggregate.
type PlayerQuestRecord struct {
	PlayerID    string
	Active      map[string]*QuestProgress        // instanceID → progress
	Completed   map[string]CompletedQuestSummary // instanceID → summary
	LastUpdated time.Time
}

// NewPlayerQuestRecord returns an empty record for a player with no history.
func NewPlayerQuestRecord(playerID string) *PlayerQuestRecord {
	return &PlayerQuestRecord{
		PlayerID:  playerID,
		Active:    make(map[string]*QuestProgress),
		Completed: make(map[string]CompletedQuestSummary),
	}
}

// CompletionCount returns how many times the player has completed the given
// quest id, across all summaries.
func (r *PlayerQuestRecord) CompletionCount(questID string) int {
	max := 0
	for _, s := range r.Completed {
		if s.QuestID == questID && s.CompletionCount > max {
			max = s.CompletionCount
		}
	}
	return max
}

// HasCompleted reports whether the player ever completed the quest id.
func (r *PlayerQuestRecord) HasCompleted(questID string) bool {
	return r.CompletionCount(questID) > 0
}
