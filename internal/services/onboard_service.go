// Package services – OnboardService
//
// This file implements OnboardService, the OAuth completion pipeline: it
// exchanges an authorization code for a long-lived access token, resolves the
// authenticated user, persists the credential, enumerates the user's Pages
// and linked Instagram Business accounts, and subscribes each Page to
// webhook delivery.
//
// The pipeline is an explicit ordered series of fallible steps. A failure in
// the token/profile/credential steps short-circuits with a *StepError naming
// the step that failed; per-Page failures in the linking and subscription
// steps are logged and skipped so one bad Page never blocks the rest.

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dmelis/go-page-relay/internal/domain"
	"github.com/dmelis/go-page-relay/internal/graph"
	"github.com/dmelis/go-page-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Pipeline step names carried by StepError.
const (
	StepExchangeCode     = "exchange_code"
	StepExchangeLongTerm = "exchange_long_lived_token"
	StepFetchProfile     = "fetch_profile"
	StepStoreCredential  = "store_credential"
	StepListPages        = "list_pages"
	StepLinkPage         = "link_page"
	StepSubscribePage    = "subscribe_page"
)

var (
	onboardCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboard_completed_total",
		Help: "OAuth onboarding pipelines that ran to completion.",
	})
	onboardFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboard_failed_total",
		Help: "OAuth onboarding pipelines aborted, by failing step.",
	}, []string{"step"})
)

// GraphAPI is the subset of the Graph client the pipeline needs. Tests
// substitute a fake; production wires *graph.Client.
type GraphAPI interface {
	ExchangeCode(ctx context.Context, code string) (*graph.Token, error)
	ExchangeLongLivedToken(ctx context.Context, shortToken string) (*graph.Token, error)
	Me(ctx context.Context, accessToken string) (*graph.Profile, error)
	ListAccounts(ctx context.Context, accessToken string) ([]graph.PageAccount, error)
	InstagramUsername(ctx context.Context, igID, pageToken string) (string, error)
	SubscribePage(ctx context.Context, pageID, pageToken string) error
}

var _ GraphAPI = (*graph.Client)(nil)

// StepError wraps a pipeline failure with the name of the step it occurred in.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("onboarding step %s failed: %v", e.Step, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) *StepError {
	onboardFailed.WithLabelValues(step).Inc()
	return &StepError{Step: step, Err: err}
}

// Result summarizes a completed onboarding run for the confirmation page.
type Result struct {
	UserID     string
	UserName   string
	Pages      int // pages the user manages
	Linked     int // pages with a linked Instagram account recorded
	Subscribed int // pages subscribed to webhook delivery
}

// OnboardService completes the OAuth flow and links the user's accounts.
type OnboardService struct {
	DB    *gorm.DB
	Graph GraphAPI
}

// Complete runs the onboarding pipeline for an authorization code. Token
// exchange, profile resolution, and the credential upsert abort on first
// failure; per-Page linking and subscription continue past individual
// failures and are reflected in the Result counts.
func (s *OnboardService) Complete(ctx context.Context, code string) (*Result, error) {
	tr := otel.Tracer("services/OnboardService")
	ctx, span := tr.Start(ctx, "Complete")
	defer span.End()

	if code == "" {
		return nil, ErrEmptyCode
	}

	shortTok, err := s.Graph.ExchangeCode(ctx, code)
	if err != nil {
		return nil, stepErr(StepExchangeCode, err)
	}

	longTok, err := s.Graph.ExchangeLongLivedToken(ctx, shortTok.AccessToken)
	if err != nil {
		return nil, stepErr(StepExchangeLongTerm, err)
	}

	profile, err := s.Graph.Me(ctx, longTok.AccessToken)
	if err != nil {
		return nil, stepErr(StepFetchProfile, err)
	}
	span.SetAttributes(attribute.String("user.id", profile.ID))

	var expiresAt *time.Time
	if longTok.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(longTok.ExpiresIn) * time.Second)
		expiresAt = &t
	}
	if _, err := repo.UpsertPageLink(ctx, s.DB, profile.ID, longTok.AccessToken, expiresAt); err != nil {
		return nil, stepErr(StepStoreCredential, err)
	}

	pages, err := s.Graph.ListAccounts(ctx, longTok.AccessToken)
	if err != nil {
		return nil, stepErr(StepListPages, err)
	}

	res := &Result{UserID: profile.ID, UserName: profile.Name, Pages: len(pages)}

	for _, page := range pages {
		if page.InstagramBusinessAccount == nil {
			continue
		}
		if s.linkPage(ctx, profile.ID, page) {
			res.Linked++
		}
	}

	for _, page := range pages {
		if err := s.Graph.SubscribePage(ctx, page.ID, page.AccessToken); err != nil {
			onboardFailed.WithLabelValues(StepSubscribePage).Inc()
			log.Error().Err(err).
				Str("user_id", profile.ID).
				Str("page_id", page.ID).
				Msg("page subscription failed")
			continue
		}
		if err := repo.MarkSubscribed(ctx, s.DB, profile.ID, time.Now().UTC()); err != nil {
			log.Error().Err(err).Str("user_id", profile.ID).Msg("subscription state update failed")
		}
		res.Subscribed++
	}

	onboardCompleted.Inc()
	log.Info().
		Str("user_id", profile.ID).
		Int("pages", res.Pages).
		Int("linked", res.Linked).
		Int("subscribed", res.Subscribed).
		Msg("onboarding completed")
	return res, nil
}

// Links returns every linked account record, newest first.
func (s *OnboardService) Links(ctx context.Context) ([]domain.PageLink, error) {
	tr := otel.Tracer("services/OnboardService")
	ctx, span := tr.Start(ctx, "Links")
	defer span.End()

	return repo.ListPageLinks(ctx, s.DB)
}

// linkPage records one Page and its Instagram account on the user's
// credential row. Reports whether the record was updated.
func (s *OnboardService) linkPage(ctx context.Context, userID string, page graph.PageAccount) bool {
	igID := page.InstagramBusinessAccount.ID

	username, err := s.Graph.InstagramUsername(ctx, igID, page.AccessToken)
	if err != nil {
		onboardFailed.WithLabelValues(StepLinkPage).Inc()
		log.Error().Err(err).
			Str("user_id", userID).
			Str("instagram_id", igID).
			Msg("instagram username lookup failed")
		return false
	}

	if err := repo.UpdatePageDetails(ctx, s.DB, userID, page.ID, page.Name, page.AccessToken, igID, username); err != nil {
		onboardFailed.WithLabelValues(StepLinkPage).Inc()
		log.Error().Err(err).
			Str("user_id", userID).
			Str("page_id", page.ID).
			Msg("page link update failed")
		return false
	}

	log.Info().
		Str("user_id", userID).
		Str("page_id", page.ID).
		Str("instagram_username", username).
		Msg("page linked")
	return true
}
