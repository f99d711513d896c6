package quest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miyako/questforge/config"
	"github.com/miyako/questforge/game/progress"
	"github.com/miyako/questforge/store"
	"go.uber.org/zap"
)

// Collection is the document-store collection holding player quest records.
const Collection = "player_quests"

var (
	ErrUnknownQuest  = errors.New("quest: unknown quest id")
	ErrNotLoaded     = errors.New("quest: player record not loaded")
	ErrAlreadyActive = errors.New("quest: quest already active")
	ErrNotRepeatable = errors.New("quest: quest already completed and not repeatable")
	ErrLevelRange    = errors.New("quest: player level outside quest bounds")
	ErrPrerequisites = errors.New("quest: prerequisites not completed")
)

// Registry holds the quest definitions and every loaded player's live quest
// record. It is the single writer for all progress state: the engine and the
// API surfaces mutate records only through it, and external readers only ever
// receive snapshots.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	players map[string]*progress.PlayerQuestRecord

	st     store.Store
	writer *store.Writer
	cfg    config.QuestConfig
	logger *zap.Logger
}

// NewRegistry creates a Registry with the given definitions and store wiring.
func NewRegistry(st store.Store, writer *store.Writer, defs map[string]*Definition, cfg config.QuestConfig, logger *zap.Logger) *Registry {
	if defs == nil {
		defs = make(map[string]*Definition)
	}
	return &Registry{
		defs:    defs,
		players: make(map[string]*progress.PlayerQuestRecord),
		st:      st,
		writer:  writer,
		cfg:     cfg,
		logger:  logger,
	}
}

// Definition returns the authored definition for a quest id.
func (r *Registry) Definition(questID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[questID]
	return d, ok
}

// Definitions returns all definitions sorted by id.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReplaceDefinitions swaps the definition set (admin reload). Active progress
// keyed to removed quests stays in place and simply stops advancing.
func (r *Registry) ReplaceDefinitions(defs map[string]*Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = defs
	r.logger.Info("quest definitions replaced", zap.Int("count", len(defs)))
}

// LoadPlayer fetches the player's record from the store into memory. A
// missing document yields a fresh record; an unavailable store is retried a
// bounded number of times and then surfaced as an error, because this read
// gates every later write-back for the player; defaulting here would clobber
// their server-side history on the next save. An already-resident record is
// kept as is: it is newer than anything the store can return. Likewise a save
// still queued on the writer wins over the stored document, so a reconnect
// racing the previous disconnect's final save cannot resurrect stale state.
func (r *Registry) LoadPlayer(ctx context.Context, playerID string) error {
	r.mu.RLock()
	_, resident := r.players[playerID]
	r.mu.RUnlock()
	if resident {
		return nil
	}

	if rec, ok := r.writer.Pending(Collection, playerID); ok {
		pqr, err := progress.Decode(playerID, rec)
		if err == nil {
			r.mu.Lock()
			r.players[playerID] = pqr
			r.mu.Unlock()
			return nil
		}
		r.logger.Warn("pending record decode failed, falling back to store",
			zap.String("player_id", playerID),
			zap.Error(err))
	}

	retries := r.cfg.LoadRetries
	if retries < 1 {
		retries = 1
	}

	var rec store.Record
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		rec, err = r.st.Get(ctx, Collection, playerID)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			break
		}
		r.logger.Warn("player record load failed, retrying",
			zap.String("player_id", playerID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	var pqr *progress.PlayerQuestRecord
	switch {
	case err == nil:
		pqr, err = progress.Decode(playerID, rec)
		if err != nil {
			// Malformed progress must never block gameplay.
			r.logger.Warn("player record decode failed, starting fresh",
				zap.String("player_id", playerID),
				zap.Error(err))
			pqr = progress.NewPlayerQuestRecord(playerID)
		}
	case errors.Is(err, store.ErrNotFound):
		pqr = progress.NewPlayerQuestRecord(playerID)
	default:
		return err
	}

	r.mu.Lock()
	r.players[playerID] = pqr
	r.mu.Unlock()
	return nil
}

// UnloadPlayer schedules a final save and drops the in-memory record.
func (r *Registry) UnloadPlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.players[playerID]
	if !ok {
		return
	}
	r.persistLocked(rec)
	delete(r.players, playerID)
}

// Loaded reports whether the player's record is in memory.
func (r *Registry) Loaded(playerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[playerID]
	return ok
}

// Accept creates a new ACTIVE instance of the quest for the player and
// returns its snapshot. Acceptance checks level bounds, prerequisites,
// repeatability, and that the quest is not already active.
func (r *Registry) Accept(playerID string, playerLevel int, questID string) (*progress.QuestProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[questID]
	if !ok {
		return nil, ErrUnknownQuest
	}
	rec, ok := r.players[playerID]
	if !ok {
		return nil, ErrNotLoaded
	}
	for _, qp := range rec.Active {
		if qp.QuestID == questID {
			return nil, ErrAlreadyActive
		}
	}
	if !def.LevelAllowed(playerLevel) {
		return nil, ErrLevelRange
	}
	for _, pre := range def.Prerequisites {
		if !rec.HasCompleted(pre) {
			return nil, ErrPrerequisites
		}
	}
	if !def.Repeatable && rec.HasCompleted(questID) {
		return nil, ErrNotRepeatable
	}

	now := time.Now()
	qp := &progress.QuestProgress{
		InstanceID:    uuid.NewString(),
		QuestID:       questID,
		PlayerID:      playerID,
		State:         progress.StateActive,
		Objectives:    make(map[string]*progress.ObjectiveProgress, len(def.Objectives)),
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	for _, o := range def.Objectives {
		qp.Objectives[o.ID] = &progress.ObjectiveProgress{
			ObjectiveID: o.ID,
			Required:    o.Required,
			StartedAt:   now,
		}
	}
	rec.Active[qp.InstanceID] = qp
	rec.LastUpdated = now
	r.persistLocked(rec)

	r.logger.Info("quest accepted",
		zap.String("player_id", playerID),
		zap.String("quest_id", questID),
		zap.String("instance_id", qp.InstanceID))
	return qp.Snapshot(), nil
}

// Abandon removes an active instance, discarding its progress. No terminal
// summary is written. Abandoning a missing instance is a silent no-op.
func (r *Registry) Abandon(playerID, instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.players[playerID]
	if !ok {
		return false
	}
	qp, ok := rec.Active[instanceID]
	if !ok || qp.State != progress.StateActive {
		return false
	}
	delete(rec.Active, instanceID)
	rec.LastUpdated = time.Now()
	r.persistLocked(rec)

	r.logger.Info("quest abandoned",
		zap.String("player_id", playerID),
		zap.String("quest_id", qp.QuestID),
		zap.String("instance_id", instanceID))
	return true
}

// MarkQuestAsRewarded performs the COMPLETED → REWARDED transition: the
// instance leaves the active set and a permanent summary is written. The call
// is idempotent: claiming an already-rewarded instance is a no-op, and
// claiming an instance that is not COMPLETED is silently refused (duplicate
// client actions are benign races, not errors).
func (r *Registry) MarkQuestAsRewarded(playerID, instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.players[playerID]
	if !ok {
		return false
	}
	now := time.Now()

	if qp, ok := rec.Active[instanceID]; ok {
		if qp.State != progress.StateCompleted {
			return false
		}
		qp.State = progress.StateRewarded
		completedAt := now
		if qp.CompletedAt != nil {
			completedAt = *qp.CompletedAt
		}
		rec.Completed[instanceID] = progress.CompletedQuestSummary{
			QuestID:         qp.QuestID,
			CompletedAt:     completedAt,
			CompletionCount: rec.CompletionCount(qp.QuestID) + 1,
			Rewarded:        true,
		}
		delete(rec.Active, instanceID)
		rec.LastUpdated = now
		r.persistLocked(rec)

		r.logger.Info("quest rewarded",
			zap.String("player_id", playerID),
			zap.String("quest_id", qp.QuestID),
			zap.String("instance_id", instanceID))
		return true
	}

	// Already in the terminal set: flip rewarded at most once.
	if s, ok := rec.Completed[instanceID]; ok && !s.Rewarded {
		s.Rewarded = true
		rec.Completed[instanceID] = s
		rec.LastUpdated = now
		r.persistLocked(rec)
		return true
	}
	return false
}

// ActiveQuests returns snapshots of the player's active instances.
func (r *Registry) ActiveQuests(playerID string) []*progress.QuestProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.players[playerID]
	if !ok {
		return nil
	}
	out := make([]*progress.QuestProgress, 0, len(rec.Active))
	for _, qp := range rec.Active {
		out = append(out, qp.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CompletedQuests returns a copy of the player's terminal summaries.
func (r *Registry) CompletedQuests(playerID string) map[string]progress.CompletedQuestSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.players[playerID]
	if !ok {
		return nil
	}
	out := make(map[string]progress.CompletedQuestSummary, len(rec.Completed))
	for iid, s := range rec.Completed {
		out[iid] = s
	}
	return out
}

// Progress returns a snapshot of one active instance.
func (r *Registry) Progress(playerID, instanceID string) (*progress.QuestProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.players[playerID]
	if !ok {
		return nil, false
	}
	qp, ok := rec.Active[instanceID]
	if !ok {
		return nil, false
	}
	return qp.Snapshot(), true
}

// CompletedSummaries loads only the completed-quest slice of a player's
// document straight from the store, a partial read for history screens that
// works whether or not the player is online.
func (r *Registry) CompletedSummaries(ctx context.Context, playerID string) (map[string]progress.CompletedQuestSummary, error) {
	r.mu.RLock()
	if rec, ok := r.players[playerID]; ok {
		out := make(map[string]progress.CompletedQuestSummary, len(rec.Completed))
		for iid, s := range rec.Completed {
			out[iid] = s
		}
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	rec, err := r.st.GetFields(ctx, Collection, playerID, progress.FieldCompleted)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]progress.CompletedQuestSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return progress.DecodeSummaries(rec)
}

// FlushAll persists every loaded player record and waits for the writes.
func (r *Registry) FlushAll(ctx context.Context) {
	r.mu.RLock()
	for _, rec := range r.players {
		r.persistLocked(rec)
	}
	r.mu.RUnlock()
	r.writer.Flush(ctx)
}

// persistLocked encodes and enqueues one player record. Callers hold r.mu.
// Persistence is fire-and-forget: the event path never waits on the store.
func (r *Registry) persistLocked(rec *progress.PlayerQuestRecord) {
	doc, err := progress.Encode(rec)
	if err != nil {
		r.logger.Error("player record encode failed",
			zap.String("player_id", rec.PlayerID),
			zap.Error(err))
		return
	}
	r.writer.Enqueue(Collection, rec.PlayerID, doc)
}
