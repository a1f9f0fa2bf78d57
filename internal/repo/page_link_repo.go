// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the PageLink
// model (the credential store).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a link is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dmelis/go-page-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertPageLink inserts or merges a PageLink row keyed by userID. Repeated
// OAuth callbacks for the same platform user update the stored token and
// expiry in place rather than inserting duplicate rows.
//
// On success, it returns the persisted PageLink (re-read after the upsert so
// callers see the merged row, including the original ID on conflict).
func UpsertPageLink(ctx context.Context, db *gorm.DB, userID, accessToken string, expiresAt *time.Time) (*domain.PageLink, error) {
	link := &domain.PageLink{
		ID:             uuid.NewString(),
		UserID:         userID,
		AccessToken:    accessToken,
		TokenExpiresAt: expiresAt,
		CreatedAt:      time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "token_expires_at", "updated_at"}),
		}).
		Create(link).Error
	if err != nil {
		return nil, err
	}
	return GetPageLinkByUser(ctx, db, userID)
}

// GetPageLinkByUser fetches the link row for a platform user. If the record
// does not exist, it returns ErrNotFound.
func GetPageLinkByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.PageLink, error) {
	var link domain.PageLink
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// FindPageLinkByPlatformID resolves the owning link for an inbound webhook
// event. The identifier is matched against the Page id column first, then
// against the Instagram id column; first match wins. Returns ErrNotFound
// when neither column matches.
func FindPageLinkByPlatformID(ctx context.Context, db *gorm.DB, id string) (*domain.PageLink, error) {
	var link domain.PageLink
	err := db.WithContext(ctx).
		Where("page_id = ?", id).
		First(&link).Error
	if err == nil {
		return &link, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	err = db.WithContext(ctx).
		Where("instagram_id = ?", id).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpdatePageDetails stores the discovered Page and Instagram identity on the
// user's link row. If no row exists for userID, it returns ErrNotFound.
func UpdatePageDetails(ctx context.Context, db *gorm.DB, userID, pageID, pageName, pageToken, igID, igUsername string) error {
	res := db.WithContext(ctx).
		Model(&domain.PageLink{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"page_id":            pageID,
			"page_name":          pageName,
			"page_access_token":  pageToken,
			"instagram_id":       igID,
			"instagram_username": igUsername,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkSubscribed flags the user's link row as subscribed to webhook delivery
// at the given time. If no row exists for userID, it returns ErrNotFound.
func MarkSubscribed(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.PageLink{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"subscribed":    true,
			"subscribed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListPageLinks returns all link rows ordered by creation time descending.
// The relay is effectively single-digit tenancy, so this is not paginated.
func ListPageLinks(ctx context.Context, db *gorm.DB) ([]domain.PageLink, error) {
	var out []domain.PageLink
	err := db.WithContext(ctx).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
