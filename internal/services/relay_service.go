// Package services – RelayService
//
// This file implements RelayService, the component that turns the platform's
// heterogeneous webhook envelopes into stored inbound messages. Deliveries
// arrive in two shapes: entry[].changes[] with field "messages" (Instagram
// object deliveries) and entry[].messaging[] (Page object deliveries). Each
// shape has its own normalization function producing an optional
// (owner, sender, text, message id) tuple; unmatched shapes are silently
// ignored.
//
// A normalized tuple is only stored when the owning Page/Instagram identifier
// resolves to a linked account. An unresolved owner drops the message without
// error: the platform delivers events for every subscribed app, including
// accounts this deployment never onboarded.
//
// Observability: Process is OpenTelemetry-instrumented, and Prometheus
// counters track received, stored, and dropped events.

package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dmelis/go-page-relay/internal/domain"
	"github.com/dmelis/go-page-relay/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// fieldMessages is the only changes[].field value carrying direct messages.
const fieldMessages = "messages"

var (
	relayReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "Webhook event envelopes accepted for processing.",
	})
	relayStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_stored_total",
		Help: "Normalized inbound messages written to the store.",
	})
	relayDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_dropped_total",
		Help: "Normalized inbound messages dropped before storage.",
	}, []string{"reason"})
)

// Event is the outer webhook delivery envelope.
type Event struct {
	Object string  `json:"object"` // "page" or "instagram"
	Entry  []Entry `json:"entry"`
}

// Entry is one delivery unit. Exactly one of Changes or Messaging is
// populated per delivery, but both are tolerated.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Changes   []Change    `json:"changes,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`
}

// Change is one field-change notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// Party identifies one side of a conversation.
type Party struct {
	ID string `json:"id"`
}

// MessageRef carries the message identifier and optional text of a single
// direct message. Attachment-only messages have no text.
type MessageRef struct {
	MID    string  `json:"mid,omitempty"`
	Text   *string `json:"text,omitempty"`
	IsEcho bool    `json:"is_echo,omitempty"`
}

// ChangeValue is the payload of a changes-shaped message notification. The
// platform has shipped the sender both as a nested from object and as a bare
// sender_id; both are accepted.
type ChangeValue struct {
	From     *Party      `json:"from,omitempty"`
	SenderID string      `json:"sender_id,omitempty"`
	Message  *MessageRef `json:"message,omitempty"`
	ID       string      `json:"id,omitempty"`
}

// Messaging is one messaging-shaped event: a direct message with explicit
// sender and recipient.
type Messaging struct {
	Sender    Party       `json:"sender"`
	Recipient Party       `json:"recipient"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Message   *MessageRef `json:"message,omitempty"`
}

// inbound is the normalized form every envelope variant reduces to.
type inbound struct {
	ownerID   string // Page or Instagram identifier the message was sent to
	senderID  string
	text      *string
	messageID string
}

// RelayService normalizes webhook deliveries and persists inbound messages.
type RelayService struct {
	DB *gorm.DB
}

// Process walks every entry of a delivery, normalizes each recognized event,
// resolves the owning linked account, and stores one message row per match.
// Unrecognized shapes and unresolved owners are dropped without error; a
// store failure on one message is logged and does not abort the rest. The
// returned count is the number of rows written.
func (s *RelayService) Process(ctx context.Context, ev Event) (int, error) {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("webhook.object", ev.Object),
			attribute.Int("webhook.entries", len(ev.Entry)),
		),
	)
	defer span.End()

	relayReceived.Inc()

	stored := 0
	for _, entry := range ev.Entry {
		for _, ch := range entry.Changes {
			if t, ok := normalizeChange(entry.ID, ch); ok {
				if s.store(ctx, t) {
					stored++
				}
			}
		}
		for _, m := range entry.Messaging {
			if t, ok := normalizeMessaging(m); ok {
				if s.store(ctx, t) {
					stored++
				}
			}
		}
	}
	span.SetAttributes(attribute.Int("relay.stored", stored))
	return stored, nil
}

// store resolves the owning linked account and writes one message row.
// Reports whether a row was written.
func (s *RelayService) store(ctx context.Context, t inbound) bool {
	link, err := repo.FindPageLinkByPlatformID(ctx, s.DB, t.ownerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			relayDropped.WithLabelValues("unlinked_owner").Inc()
			log.Debug().
				Str("owner_id", t.ownerID).
				Str("message_id", t.messageID).
				Msg("inbound message for unlinked account dropped")
			return false
		}
		relayDropped.WithLabelValues("lookup_error").Inc()
		log.Error().Err(err).Str("owner_id", t.ownerID).Msg("linked account lookup failed")
		return false
	}

	if _, err := repo.CreateInboundMessage(ctx, s.DB, link.UserID, link.PageID, link.InstagramID, t.senderID, t.text, t.messageID); err != nil {
		relayDropped.WithLabelValues("store_error").Inc()
		log.Error().Err(err).
			Str("user_id", link.UserID).
			Str("message_id", t.messageID).
			Msg("inbound message insert failed")
		return false
	}

	relayStored.Inc()
	log.Info().
		Str("user_id", link.UserID).
		Str("owner_id", t.ownerID).
		Str("sender_id", t.senderID).
		Str("message_id", t.messageID).
		Msg("inbound message stored")
	return true
}

// ListPage returns a page of stored inbound messages, newest first, with the
// total count. An empty pageID selects messages for every linked account.
func (s *RelayService) ListPage(ctx context.Context, pageID string, page, pageSize int) ([]domain.InboundMessage, int64, error) {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("page.id", pageID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountInboundMessages(ctx, s.DB, pageID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.InboundMessage{}, 0, nil
	}

	items, err := repo.ListInboundMessagesPage(ctx, s.DB, pageID, offset, pageSize)
	return items, total, err
}

// normalizeChange reduces a changes-shaped notification to an inbound tuple.
// The owning identifier is the entry id; only field "messages" with an
// identifiable sender qualifies.
func normalizeChange(entryID string, ch Change) (inbound, bool) {
	if ch.Field != fieldMessages || entryID == "" {
		return inbound{}, false
	}
	sender := ch.Value.SenderID
	if ch.Value.From != nil && ch.Value.From.ID != "" {
		sender = ch.Value.From.ID
	}
	if sender == "" {
		return inbound{}, false
	}
	t := inbound{
		ownerID:   entryID,
		senderID:  sender,
		messageID: ch.Value.ID,
	}
	if ch.Value.Message != nil {
		t.text = ch.Value.Message.Text
		if t.messageID == "" {
			t.messageID = ch.Value.Message.MID
		}
	}
	return t, true
}

// normalizeMessaging reduces a messaging-shaped event to an inbound tuple.
// The owning identifier is the recipient id. Echoes of the account's own
// outbound messages are skipped so the relay never stores its own replies.
func normalizeMessaging(m Messaging) (inbound, bool) {
	if m.Message == nil || m.Message.IsEcho {
		return inbound{}, false
	}
	if m.Sender.ID == "" || m.Recipient.ID == "" {
		return inbound{}, false
	}
	return inbound{
		ownerID:   m.Recipient.ID,
		senderID:  m.Sender.ID,
		text:      m.Message.Text,
		messageID: m.Message.MID,
	}, true
}
