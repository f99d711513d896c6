package progress

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/miyako/questforge/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(t *testing.T) *PlayerQuestRecord {
	t.Helper()
	now := time.Now().Truncate(time.Millisecond)
	done := now.Add(-time.Minute)
	r := NewPlayerQuestRecord("alice")
	r.LastUpdated = now
	r.Active["inst-1"] = &QuestProgress{
		InstanceID:   "inst-1",
		QuestID:      "gather_wood",
		PlayerID:     "alice",
		State:        StateActive,
		CurrentIndex: 1,
		Objectives: map[string]*ObjectiveProgress{
			"chop": {ObjectiveID: "chop", Current: 2, Required: 3, StartedAt: now},
			"haul": {ObjectiveID: "haul", Current: 1, Required: 1, Completed: true,
				StartedAt: now, CompletedAt: &done},
		},
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	r.Completed["inst-0"] = CompletedQuestSummary{
		QuestID:         "tutorial",
		CompletedAt:     done,
		CompletionCount: 2,
		Rewarded:        true,
	}
	return r
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := sampleRecord(t)

	rec, err := Encode(r)
	require.NoError(t, err)

	got, err := Decode("alice", rec)
	require.NoError(t, err)

	assert.Equal(t, "alice", got.PlayerID)
	require.Contains(t, got.Active, "inst-1")
	qp := got.Active["inst-1"]
	assert.Equal(t, "gather_wood", qp.QuestID)
	assert.Equal(t, StateActive, qp.State)
	assert.Equal(t, 1, qp.CurrentIndex)
	assert.Equal(t, 2, qp.Objectives["chop"].Current)
	assert.True(t, qp.Objectives["haul"].Completed)
	require.NotNil(t, qp.Objectives["haul"].CompletedAt)

	require.Contains(t, got.Completed, "inst-0")
	s := got.Completed["inst-0"]
	assert.Equal(t, "tutorial", s.QuestID)
	assert.Equal(t, 2, s.CompletionCount)
	assert.True(t, s.Rewarded)
	assert.Equal(t, r.LastUpdated.UnixMilli(), got.LastUpdated.UnixMilli())
}

func TestDecode_EmptyDocumentYieldsFreshRecord(t *testing.T) {
	got, err := Decode("bob", store.Record{})
	require.NoError(t, err)
	assert.Equal(t, "bob", got.PlayerID)
	assert.Empty(t, got.Active)
	assert.Empty(t, got.Completed)
}

func TestDecode_MissingFieldsDefault(t *testing.T) {
	// An old document: no completedQuests, quest with no state field,
	// summary with no completionCount.
	rec := store.Record{
		FieldActive: json.RawMessage(`{
			"inst-1": {
				"questId": "gather_wood",
				"objectives": {"chop": {"currentValue": 1, "requiredValue": 3}}
			}
		}`),
	}
	got, err := Decode("alice", rec)
	require.NoError(t, err)

	qp := got.Active["inst-1"]
	require.NotNil(t, qp)
	assert.Equal(t, StateActive, qp.State, "missing state defaults to ACTIVE")
	assert.Equal(t, 1, qp.Objectives["chop"].Current)
	assert.Empty(t, got.Completed)

	rec2 := store.Record{
		FieldCompleted: json.RawMessage(`{"inst-0": {"questId": "tutorial"}}`),
	}
	got2, err := Decode("alice", rec2)
	require.NoError(t, err)
	assert.Equal(t, 1, got2.Completed["inst-0"].CompletionCount,
		"missing completionCount defaults to 1")
}

func TestDecode_MalformedFieldFails(t *testing.T) {
	rec := store.Record{
		FieldActive: json.RawMessage(`"not an object"`),
	}
	_, err := Decode("alice", rec)
	assert.Error(t, err)
}

func TestDecodeSummaries_PartialView(t *testing.T) {
	r := sampleRecord(t)
	full, err := Encode(r)
	require.NoError(t, err)

	// Simulate a GetFields partial load carrying only the summary slice.
	partial := store.Record{FieldCompleted: full[FieldCompleted]}
	got, err := DecodeSummaries(partial)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tutorial", got["inst-0"].QuestID)

	// A partial load of a record with no summaries at all.
	empty, err := DecodeSummaries(store.Record{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
