package model

import (
	"time"

	"gorm.io/datatypes"
)

// QuestAudit is one row of the quest lifecycle audit trail. Rows are written
// asynchronously in batches and never read on the gameplay path.
type QuestAudit struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID   string         `gorm:"size:64;index" json:"player_id"`
	QuestID    string         `gorm:"size:64;index" json:"quest_id"`
	InstanceID string         `gorm:"size:64" json:"instance_id"`
	Action     string         `gorm:"size:32" json:"action"`
	Detail     datatypes.JSON `json:"detail"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (QuestAudit) TableName() string { return "quest_audits" }
