package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dmelis/go-page-relay/internal/config"
	"github.com/dmelis/go-page-relay/internal/domain"
	"github.com/dmelis/go-page-relay/internal/graph"
)

// --- tiny fake graph client to satisfy services.GraphAPI ---
type fakeGraph struct{}

func (fakeGraph) ExchangeCode(context.Context, string) (*graph.Token, error) {
	return &graph.Token{AccessToken: "short"}, nil
}
func (fakeGraph) ExchangeLongLivedToken(context.Context, string) (*graph.Token, error) {
	return &graph.Token{AccessToken: "long"}, nil
}
func (fakeGraph) Me(context.Context, string) (*graph.Profile, error) {
	return &graph.Profile{ID: "u1", Name: "Test User"}, nil
}
func (fakeGraph) ListAccounts(context.Context, string) ([]graph.PageAccount, error) {
	return nil, nil
}
func (fakeGraph) InstagramUsername(context.Context, string, string) (string, error) {
	return "", nil
}
func (fakeGraph) SubscribePage(context.Context, string, string) error { return nil }

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:routerdb_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
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

func testConfig(t *testing.T) config.Config {
	t.Helper()
	landing := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(landing, []byte("<html><body>relay</body></html>"), 0o600); err != nil {
		t.Fatalf("write landing page: %v", err)
	}
	return config.Config{
		APIBasePath: "/api/v1",
		LandingPage: landing,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "relay-test"},
		Meta:        config.MetaConfig{VerifyToken: "router-secret"},
	}
}

func TestRegisterRoutes_Health_Metrics_CORS_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), fakeGraph{}, testConfig(t))

	// /health works
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	// baseline security headers applied
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// unknown route → JSON envelope
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}
	var er map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er["code"] != "not_found" {
		t.Fatalf("no-route body = %s", w.Body.String())
	}

	// wrong method on a known route
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/webhook", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /webhook = %d", w.Code)
	}
}

func TestRegisterRoutes_LandingPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), fakeGraph{}, testConfig(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET / = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "relay") {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestRegisterRoutes_WebhookThroughFullStack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig(t)
	db := newTestDB(t)
	RegisterRoutes(r, db, fakeGraph{}, cfg)

	// handshake
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=router-secret&hub.challenge=99", nil))
	if w.Code != http.StatusOK || w.Body.String() != "99" {
		t.Fatalf("handshake = %d %q", w.Code, w.Body.String())
	}

	// delivery for a linked page lands in the store
	link := &domain.PageLink{ID: uuid.NewString(), UserID: "u1", AccessToken: "tok", PageID: "p1"}
	if err := db.Create(link).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	body := `{"object":"page","entry":[{"id":"p1","messaging":[{"sender":{"id":"v"},"recipient":{"id":"p1"},"message":{"mid":"m1","text":"hi"}}]}]}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "EVENT_RECEIVED" {
		t.Fatalf("delivery = %d %q", w.Code, w.Body.String())
	}
	var n int64
	db.Model(&domain.InboundMessage{}).Count(&n)
	if n != 1 {
		t.Fatalf("stored rows = %d", n)
	}
}

func TestRegisterRoutes_OAuthCallbackThroughFullStack(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, fakeGraph{}, testConfig(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("callback = %d (%s)", w.Code, w.Body.String())
	}
	var count int64
	db.Model(&domain.PageLink{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Fatalf("credential rows = %d", count)
	}
}

func TestRegisterRoutes_AllowlistCORSBranch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig(t)
	cfg.CORS.AllowedOrigins = []string{"https://dash.example.com"}
	RegisterRoutes(r, newTestDB(t), fakeGraph{}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Fatalf("ACAO = %q", got)
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w2, req2)
	if got := w2.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example.com" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if g := groupWithPrefix(r, ""); g.BasePath() != "/" {
		t.Fatalf("empty prefix base = %q", g.BasePath())
	}
	if g := groupWithPrefix(r, "/api/v1"); g.BasePath() != "/api/v1" {
		t.Fatalf("base = %q", g.BasePath())
	}
}
