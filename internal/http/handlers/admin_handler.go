// Admin HTTP handlers.
//
// This file exposes the read-only JSON API for operators:
//   - GET /api/v1/messages   (list stored messages, paginated, ETag support)
//   - GET /api/v1/pages      (list linked accounts, tokens never serialized)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// responses).
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dmelis/go-page-relay/internal/domain"
	"github.com/dmelis/go-page-relay/internal/repo"
	"github.com/dmelis/go-page-relay/internal/services"
	"github.com/dmelis/go-page-relay/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMessagesResponse wraps a page of stored messages and pagination
// information.
type ListMessagesResponse struct {
	Messages   []domain.InboundMessage `json:"messages"`
	Pagination Pagination              `json:"pagination"`
}

// ListPagesResponse wraps the linked account records. Access tokens carry a
// `json:"-"` tag on the domain model and are never serialized here.
type ListPagesResponse struct {
	Pages []domain.PageLink `json:"pages"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// ListMessages returns a page of stored inbound messages, newest first.
// The optional page_id query parameter filters by the owning Page. Supports
// weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	pageID := c.Query("page_id")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.relaySvc.(*services.RelayService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.InboundMessagesStats(ctx, db, pageID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, pageID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.relaySvc.ListPage(ctx, pageID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// ListPages returns every linked account record, newest first.
func (h *Handlers) ListPages(c *gin.Context) {
	links, err := h.onboardSvc.Links(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListPagesResponse{Pages: links})
}
