package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dmelis/go-page-relay/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:relaysvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.PageLink{}, &domain.InboundMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedLink(t *testing.T, db *gorm.DB, userID, pageID, igID string) {
	t.Helper()
	link := &domain.PageLink{
		ID:          uuid.NewString(),
		UserID:      userID,
		AccessToken: "tok-" + userID,
		PageID:      pageID,
		InstagramID: igID,
	}
	if err := db.Create(link).Error; err != nil {
		t.Fatalf("seed link: %v", err)
	}
}

func strptr(s string) *string { return &s }

func messageRows(t *testing.T, db *gorm.DB) []domain.InboundMessage {
	t.Helper()
	var rows []domain.InboundMessage
	if err := db.Order("created_at asc").Find(&rows).Error; err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return rows
}

func TestRelay_Process_ChangesEnvelope(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u1", "page-1", "ig-1")
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "instagram",
		Entry: []Entry{{
			ID: "ig-1",
			Changes: []Change{{
				Field: "messages",
				Value: ChangeValue{
					From:    &Party{ID: "visitor-9"},
					Message: &MessageRef{Text: strptr("hello there")},
					ID:      "mid.100",
				},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stored != 1 {
		t.Fatalf("stored = %d, want 1", stored)
	}

	rows := messageRows(t, db)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	m := rows[0]
	if m.UserID != "u1" || m.SenderID != "visitor-9" || m.MessageID != "mid.100" {
		t.Fatalf("row = %+v", m)
	}
	if m.Text == nil || *m.Text != "hello there" {
		t.Fatalf("text = %v", m.Text)
	}
}

func TestRelay_Process_ChangesSenderIDFallback(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u1", "page-1", "ig-1")
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "instagram",
		Entry: []Entry{{
			ID: "ig-1",
			Changes: []Change{{
				Field: "messages",
				Value: ChangeValue{
					SenderID: "visitor-7",
					Message:  &MessageRef{MID: "mid.77", Text: strptr("hi")},
				},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil || stored != 1 {
		t.Fatalf("stored = %d, err = %v", stored, err)
	}
	rows := messageRows(t, db)
	if rows[0].SenderID != "visitor-7" || rows[0].MessageID != "mid.77" {
		t.Fatalf("row = %+v", rows[0])
	}
}

func TestRelay_Process_MessagingEnvelope(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u2", "page-2", "ig-2")
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "page",
		Entry: []Entry{{
			ID: "page-2",
			Messaging: []Messaging{{
				Sender:    Party{ID: "visitor-3"},
				Recipient: Party{ID: "page-2"},
				Timestamp: time.Now().UnixMilli(),
				Message:   &MessageRef{MID: "mid.200", Text: strptr("is this in stock?")},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil || stored != 1 {
		t.Fatalf("stored = %d, err = %v", stored, err)
	}
	m := messageRows(t, db)[0]
	if m.UserID != "u2" || m.SenderID != "visitor-3" || m.MessageID != "mid.200" || m.PageID != "page-2" {
		t.Fatalf("row = %+v", m)
	}
}

func TestRelay_Process_EchoSkipped(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u2", "page-2", "ig-2")
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "page",
		Entry: []Entry{{
			ID: "page-2",
			Messaging: []Messaging{{
				Sender:    Party{ID: "page-2"},
				Recipient: Party{ID: "visitor-3"},
				Message:   &MessageRef{MID: "mid.echo", Text: strptr("we replied"), IsEcho: true},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stored != 0 {
		t.Fatalf("stored = %d, want 0", stored)
	}
	if rows := messageRows(t, db); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestRelay_Process_UnlinkedOwnerDropped(t *testing.T) {
	db := newTestDB(t)
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "page",
		Entry: []Entry{{
			ID: "page-unknown",
			Messaging: []Messaging{{
				Sender:    Party{ID: "visitor-1"},
				Recipient: Party{ID: "page-unknown"},
				Message:   &MessageRef{MID: "mid.9", Text: strptr("anyone there?")},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("Process should not fail on unlinked owner: %v", err)
	}
	if stored != 0 {
		t.Fatalf("stored = %d, want 0", stored)
	}
}

func TestRelay_Process_UnmatchedShapeIgnored(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u1", "page-1", "ig-1")
	svc := &RelayService{DB: db}

	ev := Event{
		Object: "instagram",
		Entry: []Entry{
			// wrong field
			{ID: "ig-1", Changes: []Change{{Field: "comments", Value: ChangeValue{From: &Party{ID: "x"}, ID: "c1"}}}},
			// no sender at all
			{ID: "ig-1", Changes: []Change{{Field: "messages", Value: ChangeValue{ID: "mid.1"}}}},
			// messaging without a message payload (e.g. delivery receipt)
			{ID: "page-1", Messaging: []Messaging{{Sender: Party{ID: "v"}, Recipient: Party{ID: "page-1"}}}},
		},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil || stored != 0 {
		t.Fatalf("stored = %d, err = %v", stored, err)
	}
	if rows := messageRows(t, db); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestRelay_Process_NilTextStored(t *testing.T) {
	db := newTestDB(t)
	seedLink(t, db, "u1", "page-1", "ig-1")
	svc := &RelayService{DB: db}

	// attachment-only message: mid present, no text
	ev := Event{
		Object: "page",
		Entry: []Entry{{
			ID: "page-1",
			Messaging: []Messaging{{
				Sender:    Party{ID: "visitor-5"},
				Recipient: Party{ID: "page-1"},
				Message:   &MessageRef{MID: "mid.att"},
			}},
		}},
	}

	stored, err := svc.Process(context.Background(), ev)
	if err != nil || stored != 1 {
		t.Fatalf("stored = %d, err = %v", stored, err)
	}
	if m := messageRows(t, db)[0]; m.Text != nil {
		t.Fatalf("text should be nil, got %q", *m.Text)
	}
}

func TestNormalizeChange(t *testing.T) {
	txt := "hey"

	tp, ok := normalizeChange("ig-1", Change{
		Field: "messages",
		Value: ChangeValue{From: &Party{ID: "s1"}, Message: &MessageRef{Text: &txt}, ID: "m1"},
	})
	if !ok || tp.ownerID != "ig-1" || tp.senderID != "s1" || tp.messageID != "m1" {
		t.Fatalf("tuple = %+v ok = %v", tp, ok)
	}

	// from takes precedence over sender_id when both appear
	tp, ok = normalizeChange("ig-1", Change{
		Field: "messages",
		Value: ChangeValue{From: &Party{ID: "obj"}, SenderID: "bare", ID: "m2"},
	})
	if !ok || tp.senderID != "obj" {
		t.Fatalf("tuple = %+v ok = %v", tp, ok)
	}

	if _, ok := normalizeChange("", Change{Field: "messages", Value: ChangeValue{From: &Party{ID: "s"}}}); ok {
		t.Fatal("empty entry id should not normalize")
	}
}

func TestNormalizeMessaging(t *testing.T) {
	if _, ok := normalizeMessaging(Messaging{Sender: Party{ID: "s"}, Recipient: Party{ID: "r"}}); ok {
		t.Fatal("missing message payload should not normalize")
	}
	if _, ok := normalizeMessaging(Messaging{Sender: Party{ID: "s"}, Message: &MessageRef{MID: "m"}}); ok {
		t.Fatal("missing recipient should not normalize")
	}
	tp, ok := normalizeMessaging(Messaging{
		Sender:    Party{ID: "s"},
		Recipient: Party{ID: "r"},
		Message:   &MessageRef{MID: "m1"},
	})
	if !ok || tp.ownerID != "r" || tp.senderID != "s" || tp.messageID != "m1" || tp.text != nil {
		t.Fatalf("tuple = %+v ok = %v", tp, ok)
	}
}
