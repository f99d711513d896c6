package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one row of the schema-flexible document store. The body is an
// opaque JSON object; the engine never reads it through gorm column mappings.
type Document struct {
	Collection string         `gorm:"primaryKey;size:64" json:"collection"`
	Key        string         `gorm:"primaryKey;size:128" json:"key"`
	Body       datatypes.JSON `json:"body"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }
