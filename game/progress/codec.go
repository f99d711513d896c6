package progress

import (
	"time"

	"github.com/miyako/questforge/store"
)

// Wire field names of the persisted player record.
const (
	FieldPlayerID    = "playerId"
	FieldActive      = "activeQuests"
	FieldCompleted   = "completedQuests"
	FieldLastUpdated = "lastUpdated"
)

// Timestamps travel as epoch millis so documents stay portable across
// store backends.

type wireObjective struct {
	CurrentValue  int    `json:"currentValue"`
	RequiredValue int    `json:"requiredValue"`
	Completed     bool   `json:"completed"`
	StartedAt     int64  `json:"startedAt"`
	CompletedAt   *int64 `json:"completedAt,omitempty"`
}

type wireQuest struct {
	QuestID       string                   `json:"questId"`
	Objectives    map[string]wireObjective `json:"objectives"`
	State         string                   `json:"state"`
	CurrentIndex  int                      `json:"currentObjectiveIndex"`
	StartedAt     int64                    `json:"startedAt"`
	CompletedAt   *int64                   `json:"completedAt,omitempty"`
	LastUpdatedAt int64                    `json:"lastUpdatedAt"`
}

type wireSummary struct {
	QuestID         string `json:"questId"`
	CompletedAt     int64  `json:"completedAt"`
	CompletionCount int    `json:"completionCount"`
	Rewarded        bool   `json:"rewarded"`
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	m := t.UnixMilli()
	return &m
}

func fromMillis(m int64) time.Time {
	if m == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m)
}

func fromMillisPtr(m *int64) *time.Time {
	if m == nil {
		return nil
	}
	t := time.UnixMilli(*m)
	return &t
}

// Encode serializes the record into a store document.
func Encode(r *PlayerQuestRecord) (store.Record, error) {
	active := make(map[string]wireQuest, len(r.Active))
	for iid, qp := range r.Active {
		objs := make(map[string]wireObjective, len(qp.Objectives))
		for oid, op := range qp.Objectives {
			objs[oid] = wireObjective{
				CurrentValue:  op.Current,
				RequiredValue: op.Required,
				Completed:     op.Completed,
				StartedAt:     millis(op.StartedAt),
				CompletedAt:   millisPtr(op.CompletedAt),
			}
		}
		active[iid] = wireQuest{
			QuestID:       qp.QuestID,
			Objectives:    objs,
			State:         string(qp.State),
			CurrentIndex:  qp.CurrentIndex,
			StartedAt:     millis(qp.StartedAt),
			CompletedAt:   millisPtr(qp.CompletedAt),
			LastUpdatedAt: millis(qp.LastUpdatedAt),
		}
	}
	completed := make(map[string]wireSummary, len(r.Completed))
	for iid, s := range r.Completed {
		completed[iid] = wireSummary{
			QuestID:         s.QuestID,
			CompletedAt:     millis(s.CompletedAt),
			CompletionCount: s.CompletionCount,
			Rewarded:        s.Rewarded,
		}
	}

	rec := make(store.Record, 4)
	if err := rec.Marshal(FieldPlayerID, r.PlayerID); err != nil {
		return nil, err
	}
	if err := rec.Marshal(FieldActive, active); err != nil {
		return nil, err
	}
	if err := rec.Marshal(FieldCompleted, completed); err != nil {
		return nil, err
	}
	if err := rec.Marshal(FieldLastUpdated, millis(r.LastUpdated)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Decode rebuilds a record from a store document. Any subset of fields may be
// absent: authored records evolve their schema over time, and old documents
// lack newer fields. Missing collections default to empty, a missing
// completionCount to 1, a missing state to ACTIVE.
func Decode(playerID string, rec store.Record) (*PlayerQuestRecord, error) {
	r := NewPlayerQuestRecord(playerID)

	var pid string
	if _, err := rec.Unmarshal(FieldPlayerID, &pid); err != nil {
		return nil, err
	}
	if pid != "" {
		r.PlayerID = pid
	}

	active := make(map[string]wireQuest)
	if _, err := rec.Unmarshal(FieldActive, &active); err != nil {
		return nil, err
	}
	for iid, wq := range active {
		qp := &QuestProgress{
			InstanceID:    iid,
			QuestID:       wq.QuestID,
			PlayerID:      r.PlayerID,
			State:         StateActive,
			CurrentIndex:  wq.CurrentIndex,
			Objectives:    make(map[string]*ObjectiveProgress, len(wq.Objectives)),
			StartedAt:     fromMillis(wq.StartedAt),
			CompletedAt:   fromMillisPtr(wq.CompletedAt),
			LastUpdatedAt: fromMillis(wq.LastUpdatedAt),
		}
		if wq.State != "" {
			qp.State = State(wq.State)
		}
		for oid, wo := range wq.Objectives {
			qp.Objectives[oid] = &ObjectiveProgress{
				ObjectiveID: oid,
				Current:     wo.CurrentValue,
				Required:    wo.RequiredValue,
				Completed:   wo.Completed,
				StartedAt:   fromMillis(wo.StartedAt),
				CompletedAt: fromMillisPtr(wo.CompletedAt),
			}
		}
		r.Active[iid] = qp
	}

	completed := make(map[string]wireSummary)
	if _, err := rec.Unmarshal(FieldCompleted, &completed); err != nil {
		return nil, err
	}
	for iid, ws := range completed {
		count := ws.CompletionCount
		if count < 1 {
			count = 1
		}
		r.Completed[iid] = CompletedQuestSummary{
			QuestID:         ws.QuestID,
			CompletedAt:     fromMillis(ws.CompletedAt),
			CompletionCount: count,
			Rewarded:        ws.Rewarded,
		}
	}

	var last int64
	if _, err := rec.Unmarshal(FieldLastUpdated, &last); err != nil {
		return nil, err
	}
	r.LastUpdated = fromMillis(last)
	return r, nil
}

// DecodeSummaries rebuilds only the completed-quest view from a partial
// document, for summary screens that skip the active set entirely.
func DecodeSummaries(rec store.Record) (map[string]CompletedQuestSummary, error) {
	wire := make(map[string]wireSummary)
	if _, err := rec.Unmarshal(FieldCompleted, &wire); err != nil {
		return nil, err
	}
	out := make(map[string]CompletedQuestSummary, len(wire))
	for iid, ws := range wire {
		count := ws.CompletionCount
		if count < 1 {
			count = 1
		}
		out[iid] = CompletedQuestSummary{
			QuestID:         ws.QuestID,
			CompletedAt:     fromMillis(ws.CompletedAt),
			CompletionCount: count,
			Rewarded:        ws.Rewarded,
		}
	}
	return out, nil
}
