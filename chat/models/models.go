package models

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Intent labels produced by classification.
const (
	IntentStatus        = "STATUS"
	IntentCard          = "CARD"
	IntentGeneral       = "GENERAL"
	IntentLoginRequired = "LOGIN_REQUIRED"
)

// Thread is one conversation session.
type Thread struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one user or assistant turn within a thread.
type Message struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	ThreadID  string    `json:"thread_id" gorm:"type:uuid;index:idx_messages_thread_created,priority:1"`
	Role      string    `json:"role" gorm:"size:16"`
	Content   string    `json:"content" gorm:"type:text"`
	UserID    string    `json:"user_id,omitempty"`
	Language  string    `json:"language,omitempty" gorm:"size:8"`
	Intent    string    `json:"intent,omitempty" gorm:"size:24"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_messages_thread_created,priority:2"`
}

// UserDataCache is the durable per-(thread,user) copy of a fetched board
// record. One row per pair; refetches overwrite in place.
type UserDataCache struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	ThreadID  string    `json:"thread_id" gorm:"type:uuid;uniqueIndex:idx_user_data_thread_user,priority:1"`
	UserID    string    `json:"user_id" gorm:"uniqueIndex:idx_user_data_thread_user,priority:2"`
	Payload   []byte    `json:"-" gorm:"type:jsonb"`
	FetchedAt time.Time `json:"fetched_at"`
}
