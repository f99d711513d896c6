package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/miyako/questforge/model"
	"github.com/miyako/questforge/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_BatchWrittenOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	svc.Log(Entry{
		PlayerID:   "alice",
		QuestID:    "gather_wood",
		InstanceID: "inst-1",
		Action:     ActionAccept,
	})
	svc.Log(Entry{
		PlayerID:   "alice",
		QuestID:    "gather_wood",
		InstanceID: "inst-1",
		Action:     ActionAbandon,
		Detail:     map[string]string{"reason": "player request"},
	})
	svc.Stop()

	var rows []model.QuestAudit
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, ActionAccept, rows[0].Action)
	assert.Equal(t, ActionAbandon, rows[1].Action)
	assert.Equal(t, "alice", rows[0].PlayerID)

	var detail map[string]string
	require.NoError(t, json.Unmarshal(rows[1].Detail, &detail))
	assert.Equal(t, "player request", detail["reason"])
}

func TestLog_PeriodicFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	defer svc.Stop()

	svc.Log(Entry{PlayerID: "bob", QuestID: "q", Action: ActionRewarded})

	assert.Eventually(t, func() bool {
		var n int64
		db.Model(&model.QuestAudit{}).Count(&n)
		return n == 1
	}, 5*time.Second, 100*time.Millisecond)
}

func TestListenCompletions_RecordsAnnouncements(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, ps := testutil.SetupTestCache(t)
	svc := New(db, zap.NewNop())

	unsub, err := svc.ListenCompletions(context.Background(), ps, "quest_completed")
	require.NoError(t, err)
	defer unsub()

	payload, _ := json.Marshal(map[string]interface{}{
		"player_id":   "alice",
		"quest_id":    "zombie_hunt",
		"instance_id": "inst-9",
		"at":          time.Now().UnixMilli(),
	})
	require.NoError(t, ps.Publish(context.Background(), "quest_completed", string(payload)))

	// Malformed payloads are skipped, not fatal.
	require.NoError(t, ps.Publish(context.Background(), "quest_completed", "{broken"))

	assert.Eventually(t, func() bool {
		var rows []model.QuestAudit
		db.Where("action = ?", ActionComplete).Find(&rows)
		return len(rows) == 1 && rows[0].QuestID == "zombie_hunt"
	}, 5*time.Second, 100*time.Millisecond)

	svc.Stop()
}
