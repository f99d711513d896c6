package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/miyako/questforge/cache"
	"github.com/miyako/questforge/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Quest lifecycle actions recorded in the audit trail.
const (
	ActionAccept   = "accept"
	ActionAbandon  = "abandon"
	ActionComplete = "complete"
	ActionRewarded = "rewarded"
)

// Entry holds one quest lifecycle event to be logged.
type Entry struct {
	PlayerID   string
	QuestID    string
	InstanceID string
	Action     string
	Detail     interface{}
}

// Service logs quest lifecycle entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.QuestAudit
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.QuestAudit, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry for async DB write. A full queue drops the entry
// rather than stall the caller.
func (svc *Service) Log(entry Entry) {
	detailJSON, _ := json.Marshal(entry.Detail)
	record := &model.QuestAudit{
		PlayerID:   entry.PlayerID,
		QuestID:    entry.QuestID,
		InstanceID: entry.InstanceID,
		Action:     entry.Action,
		Detail:     datatypes.JSON(detailJSON),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// ListenCompletions subscribes to the quest completion channel and records
// each announcement. It returns once the subscription is established; the
// unsubscribe function stops the listener.
func (svc *Service) ListenCompletions(ctx context.Context, ps cache.PubSub, channel string) (func(), error) {
	msgs, unsub, err := ps.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range msgs {
			var ev struct {
				PlayerID   string `json:"player_id"`
				QuestID    string `json:"quest_id"`
				InstanceID string `json:"instance_id"`
				At         int64  `json:"at"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				svc.logger.Warn("malformed completion event", zap.Error(err))
				continue
			}
			svc.Log(Entry{
				PlayerID:   ev.PlayerID,
				QuestID:    ev.QuestID,
				InstanceID: ev.InstanceID,
				Action:     ActionComplete,
				Detail:     map[string]int64{"at": ev.At},
			})
		}
	}()
	return unsub, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop() {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.QuestAudit, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
