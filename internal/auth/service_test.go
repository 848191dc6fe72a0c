package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskmarket/backend/internal/middleware"
	"github.com/taskmarket/backend/internal/models"
	"github.com/taskmarket/backend/internal/repository"
	"github.com/taskmarket/backend/internal/services"
)

// ---------------------------------------------------------------------------
// mockProfiles
// ---------------------------------------------------------------------------

type mockProfiles struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Profile
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{byID: make(map[uuid.UUID]*models.Profile)}
}

func (m *mockProfiles) Create(_ context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.byID {
		if x.Email == p.Email {
			return fmt.Errorf("email %s: %w", p.Email, repository.ErrDuplicate)
		}
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *mockProfiles) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfiles) GetByEmail(_ context.Context, email string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestRegisterLoginValidate(t *testing.T) {
	svc := NewService(newMockProfiles(), "test-secret", time.Hour)
	ctx := context.Background()

	p, err := svc.Register(ctx, " Ann@Example.com ", "password123", "Ann", models.RoleProvider)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.Email != "ann@example.com" {
		t.Errorf("email = %q, want normalized", p.Email)
	}
	if p.PasswordHash == "password123" {
		t.Error("password stored in clear")
	}

	if _, err := svc.Register(ctx, "ann@example.com", "password123", "Ann", models.RolePoster); err != ErrDuplicateEmail {
		t.Errorf("duplicate register err = %v, want ErrDuplicateEmail", err)
	}
	if _, err := svc.Register(ctx, "bob@example.com", "password123", "Bob", "admin"); err != ErrInvalidRole {
		t.Errorf("bad role err = %v, want ErrInvalidRole", err)
	}

	if _, err := svc.Login(ctx, "ann@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("wrong password err = %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "password123"); err != ErrInvalidCredentials {
		t.Errorf("unknown email err = %v", err)
	}

	token, err := svc.Login(ctx, "ANN@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, role, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != p.ID || role != models.RoleProvider {
		t.Errorf("token = (%s, %s), want (%s, provider)", id, role, p.ID)
	}

	sess, err := svc.Session(ctx, id)
	if err != nil || sess.ID != p.ID {
		t.Errorf("Session = %v, %v", sess, err)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService(newMockProfiles(), "test-secret", time.Hour)
	ctx := context.Background()

	if _, _, err := svc.ValidateToken(ctx, "garbage"); err != ErrInvalidToken {
		t.Errorf("garbage err = %v", err)
	}

	other := NewService(newMockProfiles(), "other-secret", time.Hour)
	tok, _ := other.issueToken(uuid.New(), models.RolePoster)
	if _, _, err := svc.ValidateToken(ctx, tok); err != ErrInvalidToken {
		t.Errorf("foreign signature err = %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := svc.issueToken(uuid.New(), models.RolePoster)
	svc.now = time.Now
	if _, _, err := svc.ValidateToken(ctx, expired); err != ErrInvalidToken {
		t.Errorf("expired err = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: uuid.NewString()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, _, err := svc.ValidateToken(ctx, unsigned); err != ErrInvalidToken {
		t.Errorf("alg none err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func newTestHandler(t *testing.T) (*Handler, *service) {
	t.Helper()
	v, err := services.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	svc := NewService(newMockProfiles(), "test-secret", time.Hour)
	return NewHandler(svc, v, nil), svc
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"email":"c@example.com","password":"longenough","full_name":"C","role":"poster"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response leaks password hash")
	}

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body)))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"d@example.com","password":"short","full_name":"D","role":"poster"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short password status = %d, want 422", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"c@example.com","password":"nope"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"c@example.com","password":"longenough"}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"token"`) {
		t.Errorf("login = %d %s", rec.Code, rec.Body)
	}
}

func TestHandler_Session(t *testing.T) {
	h, svc := newTestHandler(t)
	p, err := svc.Register(context.Background(), "e@example.com", "longenough", "E", models.RolePoster)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	h.Session(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), &middleware.User{ID: p.ID, Role: p.Role}))
	rec = httptest.NewRecorder()
	h.Session(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), p.ID.String()) {
		t.Errorf("session = %d %s", rec.Code, rec.Body)
	}
}
