package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/miyako/questforge/audit"
	"github.com/miyako/questforge/game/player"
	"github.com/miyako/questforge/game/progress"
	"github.com/miyako/questforge/game/quest"
	mw "github.com/miyako/questforge/middleware"
	"go.uber.org/zap"
)

// QuestHandler handles the quest REST endpoints: the definition catalog,
// per-player progress queries, and the accept/abandon/claim lifecycle.
type QuestHandler struct {
	reg      *quest.Registry
	notifier *quest.Notifier
	sm       *player.SessionManager
	auditor  *audit.Service
	logger   *zap.Logger
}

// NewQuestHandler creates a QuestHandler. auditor may be nil to disable the
// lifecycle audit trail.
func NewQuestHandler(reg *quest.Registry, n *quest.Notifier, sm *player.SessionManager, auditor *audit.Service, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{reg: reg, notifier: n, sm: sm, auditor: auditor, logger: logger}
}

// questView is the catalog shape of an authored quest.
type questView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	Sequential    bool            `json:"sequential"`
	Repeatable    bool            `json:"repeatable"`
	MinLevel      int             `json:"min_level"`
	MaxLevel      int             `json:"max_level,omitempty"`
	Prerequisites []string        `json:"prerequisites,omitempty"`
	Objectives    []objectiveView `json:"objectives"`
}

type objectiveView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Required    int    `json:"required"`
	Description string `json:"description,omitempty"`
}

// progressView is the wire shape of one quest instance, objectives in
// authored order.
type progressView struct {
	InstanceID   string         `json:"instance_id"`
	QuestID      string         `json:"quest_id"`
	State        string         `json:"state"`
	CurrentIndex int            `json:"current_index"`
	Objectives   []progressItem `json:"objectives"`
	StartedAt    int64          `json:"started_at"`
	CompletedAt  *int64         `json:"completed_at,omitempty"`
}

type progressItem struct {
	ObjectiveID string `json:"objective_id"`
	Current     int    `json:"current"`
	Required    int    `json:"required"`
	Completed   bool   `json:"completed"`
}

func toQuestView(d *quest.Definition) questView {
	v := questView{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		Category:      d.Category,
		Sequential:    d.Sequential,
		Repeatable:    d.Repeatable,
		MinLevel:      d.MinLevel,
		MaxLevel:      d.MaxLevel,
		Prerequisites: d.Prerequisites,
		Objectives:    make([]objectiveView, 0, len(d.Objectives)),
	}
	for _, o := range d.Objectives {
		v.Objectives = append(v.Objectives, objectiveView{
			ID:          o.ID,
			Kind:        string(o.Kind),
			Required:    o.Required,
			Description: o.Description,
		})
	}
	return v
}

func (h *QuestHandler) toProgressView(qp *progress.QuestProgress) progressView {
	v := progressView{
		InstanceID:   qp.InstanceID,
		QuestID:      qp.QuestID,
		State:        string(qp.State),
		CurrentIndex: qp.CurrentIndex,
		StartedAt:    qp.StartedAt.UnixMilli(),
	}
	if qp.CompletedAt != nil {
		ms := qp.CompletedAt.UnixMilli()
		v.CompletedAt = &ms
	}
	if def, ok := h.reg.Definition(qp.QuestID); ok {
		// Authored order, so clients can render the list stably.
		for _, o := range def.Objectives {
			op, ok := qp.Objectives[o.ID]
			if !ok {
				continue
			}
			v.Objectives = append(v.Objectives, progressItem{
				ObjectiveID: op.ObjectiveID,
				Current:     op.Current,
				Required:    op.Required,
				Completed:   op.Completed,
			})
		}
		return v
	}
	for _, op := range qp.Objectives {
		v.Objectives = append(v.Objectives, progressItem{
			ObjectiveID: op.ObjectiveID,
			Current:     op.Current,
			Required:    op.Required,
			Completed:   op.Completed,
		})
	}
	return v
}

func playerID(c *gin.Context) string {
	return strconv.FormatInt(mw.GetAccountID(c), 10)
}

// ListQuests returns the full definition catalog.
// GET /api/quests
func (h *QuestHandler) ListQuests(c *gin.Context) {
	defs := h.reg.Definitions()
	out := make([]questView, 0, len(defs))
	for _, d := range defs {
		out = append(out, toQuestView(d))
	}
	c.JSON(http.StatusOK, gin.H{"quests": out, "count": len(out)})
}

// GetQuest returns one authored definition.
// GET /api/quests/:id
func (h *QuestHandler) GetQuest(c *gin.Context) {
	def, ok := h.reg.Definition(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown quest"})
		return
	}
	c.JSON(http.StatusOK, toQuestView(def))
}

// ActiveQuests returns the caller's active instances. The player record is
// only resident while the player is connected.
// GET /api/player/quests/active
func (h *QuestHandler) ActiveQuests(c *gin.Context) {
	pid := playerID(c)
	if !h.reg.Loaded(pid) {
		c.JSON(http.StatusConflict, gin.H{"error": "player not online"})
		return
	}
	active := h.reg.ActiveQuests(pid)
	out := make([]progressView, 0, len(active))
	for _, qp := range active {
		out = append(out, h.toProgressView(qp))
	}
	c.JSON(http.StatusOK, gin.H{"active": out, "count": len(out)})
}

// CompletedQuests returns the caller's terminal summaries. Served from the
// resident record when the player is online, otherwise as a partial read of
// the stored document, so history works for offline players too.
// GET /api/player/quests/completed
func (h *QuestHandler) CompletedQuests(c *gin.Context) {
	pid := playerID(c)
	summaries, err := h.reg.CompletedSummaries(c.Request.Context(), pid)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	type summaryView struct {
		InstanceID      string `json:"instance_id"`
		QuestID         string `json:"quest_id"`
		CompletedAt     int64  `json:"completed_at"`
		CompletionCount int    `json:"completion_count"`
		Rewarded        bool   `json:"rewarded"`
	}
	out := make([]summaryView, 0, len(summaries))
	for iid, s := range summaries {
		out = append(out, summaryView{
			InstanceID:      iid,
			QuestID:         s.QuestID,
			CompletedAt:     s.CompletedAt.UnixMilli(),
			CompletionCount: s.CompletionCount,
			Rewarded:        s.Rewarded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"completed": out, "count": len(out)})
}

// QuestProgress returns one active instance of the caller.
// GET /api/player/quests/:instance
func (h *QuestHandler) QuestProgress(c *gin.Context) {
	pid := playerID(c)
	qp, ok := h.reg.Progress(pid, c.Param("instance"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return
	}
	c.JSON(http.StatusOK, h.toProgressView(qp))
}

type acceptRequest struct {
	QuestID string `json:"quest_id" binding:"required"`
}

// AcceptQuest starts a new instance of a quest for the caller. The caller
// must be connected: acceptance checks the live session's level.
// POST /api/player/quests/accept
func (h *QuestHandler) AcceptQuest(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pid := playerID(c)
	s := h.sm.Get(pid)
	if s == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "player not online"})
		return
	}

	qp, err := h.reg.Accept(pid, s.Level(), req.QuestID)
	if err != nil {
		c.JSON(acceptStatus(err), gin.H{"error": err.Error()})
		return
	}
	if h.auditor != nil {
		h.auditor.Log(audit.Entry{
			PlayerID:   pid,
			QuestID:    qp.QuestID,
			InstanceID: qp.InstanceID,
			Action:     audit.ActionAccept,
			Detail:     map[string]int{"level": s.Level()},
		})
	}
	c.JSON(http.StatusOK, h.toProgressView(qp))
}

func acceptStatus(err error) int {
	switch {
	case errors.Is(err, quest.ErrUnknownQuest):
		return http.StatusNotFound
	case errors.Is(err, quest.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, quest.ErrAlreadyActive),
		errors.Is(err, quest.ErrNotRepeatable),
		errors.Is(err, quest.ErrLevelRange),
		errors.Is(err, quest.ErrPrerequisites):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// AbandonQuest discards an active instance and its progress.
// POST /api/player/quests/:instance/abandon
func (h *QuestHandler) AbandonQuest(c *gin.Context) {
	pid := playerID(c)
	instanceID := c.Param("instance")
	if !h.reg.Abandon(pid, instanceID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not active"})
		return
	}
	if h.auditor != nil {
		h.auditor.Log(audit.Entry{
			PlayerID:   pid,
			InstanceID: instanceID,
			Action:     audit.ActionAbandon,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ClaimReward marks a COMPLETED instance as rewarded. Claiming twice is a
// benign race (duplicate client actions), answered with ok so clients never
// surface an error for a no-op.
// POST /api/player/quests/:instance/claim
func (h *QuestHandler) ClaimReward(c *gin.Context) {
	pid := playerID(c)
	instanceID := c.Param("instance")
	if !h.reg.MarkQuestAsRewarded(pid, instanceID) {
		if s, ok := h.reg.CompletedQuests(pid)[instanceID]; ok && s.Rewarded {
			c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "instance not claimable"})
		return
	}
	if h.auditor != nil {
		h.auditor.Log(audit.Entry{
			PlayerID:   pid,
			InstanceID: instanceID,
			Action:     audit.ActionRewarded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Leaderboard returns the players with the most quest completions.
// GET /api/quests/leaderboard?limit=20
func (h *QuestHandler) Leaderboard(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	entries, err := h.notifier.Top(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "leaderboard unavailable"})
		return
	}
	type rankEntry struct {
		Rank        int    `json:"rank"`
		PlayerID    string `json:"player_id"`
		Completions int64  `json:"completions"`
	}
	out := make([]rankEntry, 0, len(entries))
	for i, e := range entries {
		out = append(out, rankEntry{Rank: i + 1, PlayerID: e.Member, Completions: int64(e.Score)})
	}
	c.JSON(http.StatusOK, gin.H{"ranking": out})
}
