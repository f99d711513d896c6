package quest

import (
	"context"
	"testing"
	"time"

	"github.com/miyako/questforge/config"
	"github.com/miyako/questforge/game/objective"
	"github.com/miyako/questforge/game/progress"
	"github.com/miyako/questforge/store"
	"github.com/miyako/questforge/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDefinitions() map[string]*Definition {
	return map[string]*Definition{
		"gather_wood": {
			ID:         "gather_wood",
			Name:       "Gather Wood",
			Repeatable: true,
			Objectives: []objective.Objective{
				{ID: "chop", Kind: objective.BreakBlock, Required: 3,
					Params: objective.Params{BlockType: "oak_log"}},
			},
		},
		"zombie_hunt": {
			ID:         "zombie_hunt",
			Name:       "Zombie Hunt",
			Sequential: true,
			Objectives: []objective.Objective{
				{ID: "reach", Kind: objective.VisitLocation, Required: 1,
					Params: objective.Params{X: 100, Y: 64, Z: 100, Radius: 10}},
				{ID: "slay", Kind: objective.KillMob, Required: 3,
					Params: objective.Params{EntityType: "zombie"}},
			},
		},
		"veteran": {
			ID:       "veteran",
			Name:     "Veteran Trial",
			MinLevel: 50,
			MaxLevel: 60,
			Objectives: []objective.Objective{
				{ID: "survive", Kind: objective.Survive, Required: 60},
			},
		},
		"epilogue": {
			ID:            "epilogue",
			Name:          "Epilogue",
			Prerequisites: []string{"zombie_hunt"},
			Objectives: []objective.Objective{
				{ID: "talk", Kind: objective.InteractNPC, Required: 1,
					Params: objective.Params{NPCID: "elder"}},
			},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *store.Writer, store.Store) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	st := store.NewGormStore(db, logger)
	writer := store.NewWriter(st, 1, logger)
	t.Cleanup(writer.Stop)
	cfg := config.QuestConfig{
		ReadTimeout: 5 * time.Second,
		BulkTimeout: 10 * time.Second,
		LoadRetries: 2,
	}
	return NewRegistry(st, writer, testDefinitions(), cfg, logger), writer, st
}

func loadPlayer(t *testing.T, r *Registry, playerID string) {
	t.Helper()
	require.NoError(t, r.LoadPlayer(context.Background(), playerID))
}

func TestAccept_CreatesActiveInstance(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)
	assert.NotEmpty(t, qp.InstanceID)
	assert.Equal(t, progress.StateActive, qp.State)
	require.Contains(t, qp.Objectives, "chop")
	assert.Equal(t, 3, qp.Objectives["chop"].Required)
	assert.Zero(t, qp.Objectives["chop"].Current)

	active := r.ActiveQuests("alice")
	require.Len(t, active, 1)
}

func TestAccept_Rejections(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	_, err := r.Accept("alice", 5, "nope")
	assert.ErrorIs(t, err, ErrUnknownQuest)

	_, err = r.Accept("ghost", 5, "gather_wood")
	assert.ErrorIs(t, err, ErrNotLoaded)

	_, err = r.Accept("alice", 5, "veteran")
	assert.ErrorIs(t, err, ErrLevelRange)
	_, err = r.Accept("alice", 70, "veteran")
	assert.ErrorIs(t, err, ErrLevelRange)

	_, err = r.Accept("alice", 5, "epilogue")
	assert.ErrorIs(t, err, ErrPrerequisites)

	_, err = r.Accept("alice", 5, "zombie_hunt")
	require.NoError(t, err)
	_, err = r.Accept("alice", 5, "zombie_hunt")
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestAccept_NonRepeatableAfterCompletion(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "zombie_hunt")
	require.NoError(t, err)

	completeInstance(t, r, "alice", qp.InstanceID)
	require.True(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))

	_, err = r.Accept("alice", 5, "zombie_hunt")
	assert.ErrorIs(t, err, ErrNotRepeatable)

	// The prerequisite is now satisfied.
	_, err = r.Accept("alice", 5, "epilogue")
	assert.NoError(t, err)
}

func TestAccept_RepeatableAfterCompletion(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)
	completeInstance(t, r, "alice", qp.InstanceID)
	require.True(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))

	qp2, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)
	assert.NotEqual(t, qp.InstanceID, qp2.InstanceID)
}

// completeInstance forces every objective of an active instance to done.
func completeInstance(t *testing.T, r *Registry, playerID, instanceID string) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.players[playerID]
	require.NotNil(t, rec)
	qp := rec.Active[instanceID]
	require.NotNil(t, qp)
	now := time.Now()
	for _, op := range qp.Objectives {
		op.Apply(op.Required, now)
	}
	require.True(t, qp.AllCompleted())
	qp.Complete(now)
}

func TestAbandon_DiscardsProgress(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	assert.True(t, r.Abandon("alice", qp.InstanceID))
	assert.Empty(t, r.ActiveQuests("alice"))
	assert.Empty(t, r.CompletedQuests("alice"), "abandon leaves no terminal summary")

	// Abandoning again is a silent no-op.
	assert.False(t, r.Abandon("alice", qp.InstanceID))
	assert.False(t, r.Abandon("alice", "missing"))
}

func TestMarkQuestAsRewarded_Lifecycle(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	// ACTIVE instances cannot be claimed.
	assert.False(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))

	completeInstance(t, r, "alice", qp.InstanceID)
	assert.True(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))

	completed := r.CompletedQuests("alice")
	require.Contains(t, completed, qp.InstanceID)
	s := completed[qp.InstanceID]
	assert.Equal(t, "gather_wood", s.QuestID)
	assert.Equal(t, 1, s.CompletionCount)
	assert.True(t, s.Rewarded)
	assert.Empty(t, r.ActiveQuests("alice"))

	// Idempotent: a duplicate claim changes nothing.
	assert.False(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))
	assert.Equal(t, 1, r.CompletedQuests("alice")[qp.InstanceID].CompletionCount)
}

func TestMarkQuestAsRewarded_CompletionCountAccumulates(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	for want := 1; want <= 3; want++ {
		qp, err := r.Accept("alice", 5, "gather_wood")
		require.NoError(t, err)
		completeInstance(t, r, "alice", qp.InstanceID)
		require.True(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))
		assert.Equal(t, want, r.CompletedQuests("alice")[qp.InstanceID].CompletionCount)
	}
}

func TestLoadUnload_PersistsAcrossSessions(t *testing.T) {
	r, writer, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	r.UnloadPlayer("alice")
	assert.False(t, r.Loaded("alice"))
	writer.Flush(context.Background())

	loadPlayer(t, r, "alice")
	active := r.ActiveQuests("alice")
	require.Len(t, active, 1)
	assert.Equal(t, qp.InstanceID, active[0].InstanceID)
}

// laggingStore delays every Save so queued writes stay pending long enough
// for a reconnect to race them.
type laggingStore struct {
	store.Store
	delay time.Duration
}

func (s *laggingStore) Save(ctx context.Context, collection, key string, rec store.Record) error {
	time.Sleep(s.delay)
	return s.Store.Save(ctx, collection, key, rec)
}

func TestLoadPlayer_QuickReconnectSeesQueuedSave(t *testing.T) {
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	slow := &laggingStore{Store: store.NewGormStore(db, logger), delay: 300 * time.Millisecond}
	writer := store.NewWriter(slow, 1, logger)
	t.Cleanup(writer.Stop)
	cfg := config.QuestConfig{
		ReadTimeout: 5 * time.Second,
		BulkTimeout: 10 * time.Second,
		LoadRetries: 2,
	}
	r := NewRegistry(slow, writer, testDefinitions(), cfg, logger)

	loadPlayer(t, r, "alice")
	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	// Disconnect and reconnect before the final save can land in the store.
	r.UnloadPlayer("alice")
	loadPlayer(t, r, "alice")

	active := r.ActiveQuests("alice")
	require.Len(t, active, 1, "queued save must win over the stale stored document")
	assert.Equal(t, qp.InstanceID, active[0].InstanceID)
}

func TestLoadPlayer_KeepsResidentRecord(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	// A duplicate login loads again while the record is live; the resident
	// state must not be replaced by whatever the store holds.
	loadPlayer(t, r, "alice")
	active := r.ActiveQuests("alice")
	require.Len(t, active, 1)
	assert.Equal(t, qp.InstanceID, active[0].InstanceID)
}

func TestLoadPlayer_FreshPlayerGetsEmptyRecord(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "newcomer")
	assert.True(t, r.Loaded("newcomer"))
	assert.Empty(t, r.ActiveQuests("newcomer"))
	assert.Empty(t, r.CompletedQuests("newcomer"))
}

func TestCompletedSummaries_OfflinePartialRead(t *testing.T) {
	r, writer, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)
	completeInstance(t, r, "alice", qp.InstanceID)
	require.True(t, r.MarkQuestAsRewarded("alice", qp.InstanceID))

	r.UnloadPlayer("alice")
	writer.Flush(context.Background())

	// Offline player: summaries come straight from the store.
	got, err := r.CompletedSummaries(context.Background(), "alice")
	require.NoError(t, err)
	require.Contains(t, got, qp.InstanceID)
	assert.Equal(t, "gather_wood", got[qp.InstanceID].QuestID)

	// A player with no document at all yields an empty map, not an error.
	none, err := r.CompletedSummaries(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSnapshots_AreIsolated(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	// Mutating the returned snapshot must not leak into the registry.
	qp.Objectives["chop"].Current = 99
	fresh, ok := r.Progress("alice", qp.InstanceID)
	require.True(t, ok)
	assert.Zero(t, fresh.Objectives["chop"].Current)
}

func TestReplaceDefinitions_FrozenProgressKept(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	loadPlayer(t, r, "alice")

	qp, err := r.Accept("alice", 5, "gather_wood")
	require.NoError(t, err)

	r.ReplaceDefinitions(map[string]*Definition{})
	assert.Empty(t, r.Definitions())

	// The instance survives the catalog swap.
	_, ok := r.Progress("alice", qp.InstanceID)
	assert.True(t, ok)
}
