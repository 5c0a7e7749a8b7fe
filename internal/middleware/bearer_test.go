package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atinyakov/accounts/internal/token"
	"go.uber.org/zap"
)

// dummyHandler is a placeholder that records if it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(raw string) (*token.Claims, error) {
	if raw != "good" && raw != "revoked" {
		return nil, token.ErrInvalidToken
	}
	c := &token.Claims{AccountID: 1, Username: "alice"}
	c.ID = raw
	return c, nil
}

type fakeRevocations struct{ err error }

func (f fakeRevocations) IsRevoked(ctx context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return id == "revoked", nil
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		revErr     error
		wantCalled bool
		wantCode   int
	}{
		{name: "no header", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantCode: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "revoked token", header: "Bearer revoked", wantCode: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", wantCalled: true, wantCode: http.StatusOK},
		{name: "revocation list down", header: "Bearer good", revErr: errors.New("redis down"), wantCalled: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := BearerAuth(fakeVerifier{}, fakeRevocations{err: tt.revErr}, zap.NewNop())(dummy)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/logout", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(rec, req)

			if dummy.called != tt.wantCalled {
				t.Fatalf("next called = %v; want %v", dummy.called, tt.wantCalled)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCalled {
				claims := ClaimsFromContext(dummy.ctx)
				if claims == nil || claims.Username != "alice" {
					t.Errorf("expected claims for alice, got %+v", claims)
				}
			}
		})
	}
}

func TestClaimsFromContext_Missing(t *testing.T) {
	if c := ClaimsFromContext(context.Background()); c != nil {
		t.Errorf("expected nil claims, got %+v", c)
	}
}
