// Package http provides HTTP handlers for the account API: signup, login,
// logout, account deletion, email verification and health.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/atinyakov/accounts/internal/middleware"
	"github.com/atinyakov/accounts/internal/models"
	"github.com/atinyakov/accounts/internal/service"
	"github.com/atinyakov/accounts/internal/token"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// tokenCookie carries the session token for browser clients.
const tokenCookie = "token"

// AccountService defines the account operations required by the handlers.
type AccountService interface {
	Signup(ctx context.Context, in service.SignupInput) (*service.Session, error)
	Login(ctx context.Context, username, password string) (*service.Session, error)
	Logout(ctx context.Context, claims *token.Claims) error
	Delete(ctx context.Context, claims *token.Claims, password string) error
	VerifyEmail(ctx context.Context, raw string) (*models.Account, error)
}

// AccountHandler handles HTTP requests for the account lifecycle.
type AccountHandler struct {
	// AccountService performs the underlying account operations.
	AccountService AccountService
	// Log receives unexpected errors.
	Log *zap.Logger
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	// TokenTTL bounds the session cookie lifetime.
	TokenTTL time.Duration

	validate *validator.Validate
}

// NewAccountHandler returns a handler with its request validator prepared.
func NewAccountHandler(svc AccountService, tokenTTL time.Duration, secureCookie bool, log *zap.Logger) *AccountHandler {
	return &AccountHandler{
		AccountService: svc,
		Log:            log,
		SecureCookie:   secureCookie,
		TokenTTL:       tokenTTL,
		validate:       newValidator(),
	}
}

// SignupRequest is the JSON payload for account creation.
type SignupRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

// LoginRequest is the JSON payload for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// DeleteRequest is the JSON payload confirming account deletion.
type DeleteRequest struct {
	Password string `json:"password" validate:"required,maxbytes=72"`
}

// SessionResponse is returned by signup and login.
type SessionResponse struct {
	User  models.Public `json:"user"`
	Token string        `json:"token"`
}

// Signup creates an account and responds 201 with the account and a token.
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.AccountService.Signup(r.Context(), service.SignupInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{User: session.Account.Public(), Token: session.Token})
}

// Login authenticates a user, sets the session cookie and returns the token.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.AccountService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(h.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, SessionResponse{User: session.Account.Public(), Token: session.Token})
}

// Logout revokes the caller's token and clears the session cookie.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.AccountService.Logout(r.Context(), claims); err != nil {
		h.writeError(w, err)
		return
	}

	h.clearCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// Delete removes the caller's account after re-checking the password.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req DeleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.AccountService.Delete(r.Context(), claims, req.Password); err != nil {
		h.writeError(w, err)
		return
	}

	h.clearCookie(w)
	writeMessage(w, http.StatusOK, "Account deleted successfully")
}

// VerifyEmail confirms the address carried in the "token" query parameter.
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeMessage(w, http.StatusBadRequest, "Verification token is required")
		return
	}

	if _, err := h.AccountService.VerifyEmail(r.Context(), raw); err != nil {
		h.writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "Email verified successfully")
}

func (h *AccountHandler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeMessage(w, http.StatusBadRequest, "Invalid request body")
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Validation failed",
			"errors":  fields,
		})
		return false
	}
	return true
}

// writeError maps service errors onto status codes. Only messages of
// *models.Error are shown to clients.
func (h *AccountHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)

	var pub *models.Error
	if status != http.StatusInternalServerError && errors.As(err, &pub) {
		writeMessage(w, status, pub.Msg)
		return
	}
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
		writeMessage(w, status, "Internal server error")
		return
	}
	writeMessage(w, status, http.StatusText(status))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAuth):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
