package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmelis/go-page-relay/internal/services"
)

func TestOAuthCallback_MissingCode400(t *testing.T) {
	_ = captureLogs(t)
	h := New(stubRelaySvc{}, stubOnboardSvc{
		complete: func(context.Context, string) (*services.Result, error) {
			t.Fatal("pipeline must not run without a code")
			return nil, nil
		},
	}, testVerifyToken)
	r := newRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "authorization code") {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestOAuthCallback_Success(t *testing.T) {
	_ = captureLogs(t)
	var gotCode string
	h := New(stubRelaySvc{}, stubOnboardSvc{
		complete: func(_ context.Context, code string) (*services.Result, error) {
			gotCode = code
			return &services.Result{UserName: "Dana Ops", Pages: 2, Linked: 1, Subscribed: 2}, nil
		},
	}, testVerifyToken)
	r := newRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=AQB123", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotCode != "AQB123" {
		t.Fatalf("code = %q", gotCode)
	}
	body := w.Body.String()
	for _, want := range []string{"Dana Ops", "Pages found: 2", "linked: 1", "delivery: 2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestOAuthCallback_PipelineFailure500(t *testing.T) {
	_ = captureLogs(t)
	h := New(stubRelaySvc{}, stubOnboardSvc{
		complete: func(context.Context, string) (*services.Result, error) {
			return nil, &services.StepError{Step: services.StepExchangeCode, Err: errors.New("bad code")}
		},
	}, testVerifyToken)
	r := newRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/callback?code=bogus", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if w.Body.String() != oauthFailureBody {
		t.Fatalf("body = %q; failures must collapse to the fixed message", w.Body.String())
	}
	// no token material or step detail leaks to the browser
	if strings.Contains(w.Body.String(), "bad code") {
		t.Fatalf("error detail leaked: %q", w.Body.String())
	}
}
