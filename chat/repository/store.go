package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"karmika-sahayak/backend/chat/models"
)

// ErrThreadNotFound is returned by reads against an unknown thread.
var ErrThreadNotFound = errors.New("thread not found")

// Store is the persistence surface the chat service depends on.
type Store interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	EnsureThread(ctx context.Context, threadID string) error
	ThreadExists(ctx context.Context, threadID string) (bool, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int64, error)
	RecentMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error)

	GetUserRecordCache(ctx context.Context, threadID, userID string) ([]byte, error)
	SaveUserRecordCache(ctx context.Context, threadID, userID string, payload []byte) error

	CleanupExpired(ctx context.Context, messageAge, cacheAge time.Duration) (int64, int64, error)
}

// GormStore implements Store on gorm/postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates the chat tables.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Thread{}, &models.Message{}, &models.UserDataCache{})
}

func (s *GormStore) CreateThread(ctx context.Context) (*models.Thread, error) {
	thread := &models.Thread{ID: uuid.NewString()}
	if err := s.db.WithContext(ctx).Create(thread).Error; err != nil {
		return nil, err
	}
	return thread, nil
}

// EnsureThread creates the thread row if it does not exist. Safe to call
// repeatedly and from concurrent senders.
func (s *GormStore) EnsureThread(ctx context.Context, threadID string) error {
	thread := &models.Thread{ID: threadID}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(thread).Error
}

func (s *GormStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Thread{}).
		Where("id = ?", threadID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(msg).Error
}

// ListMessages returns one page in chronological order plus the total count.
func (s *GormStore) ListMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int64, error) {
	exists, err := s.ThreadExists(ctx, threadID)
	if err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, ErrThreadNotFound
	}

	var total int64
	if err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("thread_id = ?", threadID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err = s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, total, err
}

// RecentMessages returns the newest limit messages re-sorted into
// chronological order.
func (s *GormStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetUserRecordCache returns the cached record payload, or nil when absent.
func (s *GormStore) GetUserRecordCache(ctx context.Context, threadID, userID string) ([]byte, error) {
	var entry models.UserDataCache
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND user_id = ?", threadID, userID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Payload, nil
}

// SaveUserRecordCache upserts the record payload for the (thread, user) pair.
func (s *GormStore) SaveUserRecordCache(ctx context.Context, threadID, userID string, payload []byte) error {
	entry := &models.UserDataCache{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		UserID:    userID,
		Payload:   payload,
		FetchedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "thread_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "fetched_at"}),
		}).
		Create(entry).Error
}

// CleanupExpired deletes messages older than messageAge and cache rows older
// than cacheAge, returning the counts removed.
func (s *GormStore) CleanupExpired(ctx context.Context, messageAge, cacheAge time.Duration) (int64, int64, error) {
	now := time.Now()

	msgResult := s.db.WithContext(ctx).
		Where("created_at < ?", now.Add(-messageAge)).
		Delete(&models.Message{})
	if msgResult.Error != nil {
		return 0, 0, msgResult.Error
	}

	cacheResult := s.db.WithContext(ctx).
		Where("fetched_at < ?", now.Add(-cacheAge)).
		Delete(&models.UserDataCache{})
	if cacheResult.Error != nil {
		return msgResult.RowsAffected, 0, cacheResult.Error
	}

	return msgResult.RowsAffected, cacheResult.RowsAffected, nil
}
