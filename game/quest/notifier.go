package quest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/miyako/questforge/cache"
	"go.uber.org/zap"
)

const (
	// LeaderboardKey is the sorted set of total quest completions per player.
	LeaderboardKey = "quest:completions"
	// CompletionChannel carries quest-completion announcements.
	CompletionChannel = "quest_completed"

	notifyTimeout = 5 * time.Second
)

// CompletionEvent is the payload published on CompletionChannel.
type CompletionEvent struct {
	PlayerID   string `json:"player_id"`
	QuestID    string `json:"quest_id"`
	InstanceID string `json:"instance_id"`
	At         int64  `json:"at"` // epoch millis
}

// Notifier fans quest completions out to the cache leaderboard and pub/sub.
// Both are best-effort side channels: failures are logged and never reach
// the event-handling path.
type Notifier struct {
	cache  cache.Cache
	pubsub cache.PubSub
	logger *zap.Logger
}

// NewNotifier creates a Notifier. Either dependency may be nil to disable
// that channel.
func NewNotifier(c cache.Cache, ps cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{cache: c, pubsub: ps, logger: logger}
}

// QuestCompleted records one completion. Dispatched on its own goroutine so
// the caller never blocks on the cache.
func (n *Notifier) QuestCompleted(playerID, questID, instanceID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if n.cache != nil {
			if _, err := n.cache.ZIncrBy(ctx, LeaderboardKey, 1, playerID); err != nil {
				n.logger.Warn("leaderboard update failed",
					zap.String("player_id", playerID),
					zap.Error(err))
			}
		}
		if n.pubsub != nil {
			payload, _ := json.Marshal(CompletionEvent{
				PlayerID:   playerID,
				QuestID:    questID,
				InstanceID: instanceID,
				At:         time.Now().UnixMilli(),
			})
			if err := n.pubsub.Publish(ctx, CompletionChannel, string(payload)); err != nil {
				n.logger.Warn("completion publish failed",
					zap.String("player_id", playerID),
					zap.Error(err))
			}
		}
	}()
}

// Top returns the highest-completion players, best first.
func (n *Notifier) Top(ctx context.Context, limit int) ([]cache.ZEntry, error) {
	if n.cache == nil || limit <= 0 {
		return nil, nil
	}
	return n.cache.ZRevRangeWithScores(ctx, LeaderboardKey, 0, int64(limit-1))
}
