package collection

import (
	"time"

	"gorm.io/gorm"
)

const (
	TypeItem  = "ITEM"
	TypeMoney = "MONEY"
)

// Entry is something owed to a player: an item or money held until they
// claim it. Deleted only after the caller confirms delivery.
type Entry struct {
	gorm.Model `json:"-"`
	EntryID    string    `gorm:"uniqueIndex" json:"entry_id"`
	PlayerID   string    `gorm:"index" json:"player_id"`
	Type       string    `json:"type"` // ITEM or MONEY
	ItemData   []byte    `json:"item_data,omitempty"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is a queued informational message delivered on the
// player's next session.
type Notification struct {
	gorm.Model  `json:"-"`
	PlayerID    string    `gorm:"index" json:"player_id"`
	MessageKey  string    `json:"message_key"`
	MessageData string    `json:"message_data"`
	CreatedAt   time.Time `json:"created_at"`
}
