// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// InboundMessage model (the message store).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dmelis/go-page-relay/internal/domain"
)

// CreateInboundMessage inserts a new message row. Text may be nil for
// attachment-only messages. There is no dedup on messageID: redelivered
// webhook events insert additional rows.
func CreateInboundMessage(ctx context.Context, db *gorm.DB, userID, pageID, igID, senderID string, text *string, messageID string) (*domain.InboundMessage, error) {
	m := &domain.InboundMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		PageID:      pageID,
		InstagramID: igID,
		SenderID:    senderID,
		Text:        text,
		MessageID:   messageID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// CountInboundMessages returns the total number of stored messages,
// optionally restricted to one Page id.
func CountInboundMessages(ctx context.Context, db *gorm.DB, pageID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.InboundMessage{})
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListInboundMessagesPage returns a paginated slice of messages ordered by
// creation time descending (most recent first), optionally restricted to one
// Page id. The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListInboundMessagesPage(ctx context.Context, db *gorm.DB, pageID string, offset, limit int) ([]domain.InboundMessage, error) {
	var out []domain.InboundMessage
	q := db.WithContext(ctx).Model(&domain.InboundMessage{})
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}
	err := q.
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// InboundMessagesStats returns aggregate metadata for the stored messages:
// the total row count and the maximum CreatedAt among them. Used for ETag
// generation on the listing endpoint. When there are no rows, count is 0 and
// maxCreatedAt is nil.
func InboundMessagesStats(ctx context.Context, db *gorm.DB, pageID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.InboundMessage{})
	if pageID != "" {
		q = q.Where("page_id = ?", pageID)
	}

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
