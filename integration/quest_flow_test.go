package integration

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/miyako/questforge/game/objective"
	"github.com/miyako/questforge/game/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() map[string]*quest.Definition {
	return map[string]*quest.Definition{
		"gather_wood": {
			ID:   "gather_wood",
			Name: "Gather Wood",
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
				{ID: "reach_graveyard", Kind: objective.VisitLocation, Required: 1,
					Params: objective.Params{World: "overworld", X: 100, Y: 64, Z: 100, Radius: 10}},
				{ID: "slay", Kind: objective.KillMob, Required: 3,
					Params: objective.Params{EntityType: "zombie"}},
			},
		},
		"veteran_only": {
			ID:       "veteran_only",
			Name:     "Veteran Trial",
			MinLevel: 50,
			Objectives: []objective.Objective{
				{ID: "survive", Kind: objective.Survive, Required: 60},
			},
		},
	}
}

func TestQuestFlow_AcceptProgressClaim(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	token, _, ws := ts.LoginAndConnect(t, UniqueID("flow"), 5)
	defer ws.Close()

	// Accept over REST.
	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var accepted map[string]interface{}
	ReadJSON(t, resp, &accepted)
	instanceID := accepted["instance_id"].(string)
	require.NotEmpty(t, instanceID)
	assert.Equal(t, "ACTIVE", accepted["state"])

	// Two chops: progress but not complete.
	ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
	pkt := ws.RecvType("quest_update", 5*time.Second)
	payload := PayloadMap(t, pkt)
	assert.Equal(t, "ACTIVE", payload["state"])

	ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
	ws.RecvType("quest_update", 5*time.Second)

	// Wrong block type produces no update packet; the next matching event
	// must still arrive as the third increment.
	ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "stone"})
	ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
	pkt = ws.RecvType("quest_update", 5*time.Second)
	payload = PayloadMap(t, pkt)
	assert.Equal(t, "COMPLETED", payload["state"])

	// Claim the reward over REST.
	resp = ts.PostJSON(t, "/api/player/quests/"+instanceID+"/claim", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A duplicate claim is a benign no-op, answered ok rather than as an error.
	resp = ts.PostJSON(t, "/api/player/quests/"+instanceID+"/claim", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again map[string]interface{}
	ReadJSON(t, resp, &again)
	assert.Equal(t, true, again["already"])

	// The quest now shows up in the completed list.
	resp = ts.Get(t, "/api/player/quests/completed", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed struct {
		Completed []struct {
			QuestID  string `json:"quest_id"`
			Rewarded bool   `json:"rewarded"`
		} `json:"completed"`
	}
	ReadJSON(t, resp, &completed)
	require.Len(t, completed.Completed, 1)
	assert.Equal(t, "gather_wood", completed.Completed[0].QuestID)
	assert.True(t, completed.Completed[0].Rewarded)
}

func TestQuestFlow_SequentialGating(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	token, _, ws := ts.LoginAndConnect(t, UniqueID("seq"), 5)
	defer ws.Close()

	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "zombie_hunt"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var accepted map[string]interface{}
	ReadJSON(t, resp, &accepted)
	instanceID := accepted["instance_id"].(string)

	// Kills before visiting the graveyard must not count.
	ws.Send("game_event", map[string]interface{}{"kind": "mob_kill", "entity_type": "zombie"})
	time.Sleep(100 * time.Millisecond)

	resp = ts.Get(t, "/api/player/quests/"+instanceID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Objectives []struct {
			ObjectiveID string `json:"objective_id"`
			Current     int    `json:"current"`
		} `json:"objectives"`
	}
	ReadJSON(t, resp, &view)
	require.Len(t, view.Objectives, 2)
	assert.Equal(t, 0, view.Objectives[1].Current, "kill before visit must not count")

	// Visit the location, then the kills count.
	ws.Send("game_event", map[string]interface{}{
		"kind": "move", "world": "overworld", "x": 102.0, "y": 64.0, "z": 99.0,
	})
	ws.RecvType("quest_update", 5*time.Second)

	for i := 0; i < 3; i++ {
		ws.Send("game_event", map[string]interface{}{"kind": "mob_kill", "entity_type": "zombie"})
		pkt := ws.RecvType("quest_update", 5*time.Second)
		if i == 2 {
			payload := PayloadMap(t, pkt)
			assert.Equal(t, "COMPLETED", payload["state"])
		}
	}
}

func TestQuestFlow_AcceptRejections(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	token, _, ws := ts.LoginAndConnect(t, UniqueID("rej"), 5)
	defer ws.Close()

	// Below min level.
	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "veteran_only"}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Unknown quest.
	resp = ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "nope"}, token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Duplicate accept of an active quest.
	resp = ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestQuestFlow_ProgressSurvivesReconnect(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	name := UniqueID("persist")
	token, playerID, ws := ts.LoginAndConnect(t, name, 5)

	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var accepted map[string]interface{}
	ReadJSON(t, resp, &accepted)
	instanceID := accepted["instance_id"].(string)

	ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
	ws.RecvType("quest_update", 5*time.Second)

	// Disconnect: the final save is enqueued and the record unloaded.
	ws.Close()
	require.Eventually(t, func() bool {
		return !ts.Registry.Loaded(playerID)
	}, 5*time.Second, 20*time.Millisecond)

	// Reconnect immediately, without waiting for the save to land; the load
	// must pick up the queued record rather than the stale stored one.
	ws2 := ts.ConnectWS(t, token)
	defer ws2.Close()
	time.Sleep(50 * time.Millisecond)

	resp = ts.Get(t, "/api/player/quests/"+instanceID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Objectives []struct {
			Current int `json:"current"`
		} `json:"objectives"`
	}
	ReadJSON(t, resp, &view)
	require.Len(t, view.Objectives, 1)
	assert.Equal(t, 1, view.Objectives[0].Current)
}

func TestQuestFlow_DuplicateLoginKeepsNewConnection(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	token, playerID, ws1 := ts.LoginAndConnect(t, UniqueID("dup"), 5)

	// A second connection on the same account displaces the first.
	ws2 := ts.ConnectWS(t, token)
	defer ws2.Close()
	ws2.Send("player_state", map[string]interface{}{"level": 5, "gold": 0})

	// Wait until the client observes the server-side close of the old
	// connection, so the displaced session's teardown has run.
	require.Eventually(t, func() bool {
		_, err := ws1.RecvAny(100 * time.Millisecond)
		if err == nil {
			return false
		}
		var te *timeoutError
		return !errors.As(err, &te)
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.True(t, ts.SM.IsOnline(playerID), "displaced teardown must not evict the live session")
	assert.True(t, ts.Registry.Loaded(playerID), "displaced teardown must not unload the record")

	// The surviving connection still drives progress end to end.
	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	ws2.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
	pkt := ws2.RecvType("quest_update", 5*time.Second)
	payload := PayloadMap(t, pkt)
	assert.Equal(t, "ACTIVE", payload["state"])
}

func TestQuestFlow_LeaderboardCountsCompletions(t *testing.T) {
	ts := NewTestServer(t, testDefs())
	defer ts.Close()

	token, playerID, ws := ts.LoginAndConnect(t, UniqueID("board"), 5)
	defer ws.Close()

	resp := ts.PostJSON(t, "/api/player/quests/accept",
		map[string]string{"quest_id": "gather_wood"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	for i := 0; i < 3; i++ {
		ws.Send("game_event", map[string]interface{}{"kind": "block_break", "block_type": "oak_log"})
		ws.RecvType("quest_update", 5*time.Second)
	}

	// The leaderboard update is async; poll until it lands.
	require.Eventually(t, func() bool {
		resp := ts.Get(t, "/api/quests/leaderboard", "")
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		var board struct {
			Ranking []struct {
				PlayerID    string `json:"player_id"`
				Completions int64  `json:"completions"`
			} `json:"ranking"`
		}
		ReadJSON(t, resp, &board)
		for _, e := range board.Ranking {
			if e.PlayerID == playerID && e.Completions == 1 {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}
