package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	id   uuid.UUID
	role string
	err  error
	seen string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	s.seen = token
	return s.id, s.role, s.err
}

// okHandler writes 200 and the caller id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u := UserFromCtx(r.Context()); u != nil {
		w.Write([]byte(u.ID.String()))
	}
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequireAuth_ValidToken(t *testing.T) {
	v := &stubValidator{id: uuid.New(), role: "poster"}
	mw := RequireAuth(v)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != v.id.String() {
		t.Errorf("expected user id %q in body, got %q", v.id, body)
	}
	if v.seen != "good-token" {
		t.Errorf("validator saw %q", v.seen)
	}
}

func TestRequireAuth_QueryTokenFallback(t *testing.T) {
	v := &stubValidator{id: uuid.New(), role: "provider"}
	mw := RequireAuth(v)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/stream?access_token=sse-token", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if v.seen != "sse-token" {
		t.Errorf("validator saw %q, want sse-token", v.seen)
	}
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	mw := RequireAuth(&stubValidator{})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	mw := RequireAuth(&stubValidator{err: errors.New("expired")})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("provider")(okHandler)

	tests := []struct {
		name string
		user *User
		want int
	}{
		{"no user", nil, http.StatusUnauthorized},
		{"wrong role", &User{ID: uuid.New(), Role: "poster"}, http.StatusForbidden},
		{"matching role", &User{ID: uuid.New(), Role: "provider"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
