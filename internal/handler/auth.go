package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/dukerupert/reelsmith/internal/billing/reconcile"
	"github.com/dukerupert/reelsmith/internal/email"
	"github.com/dukerupert/reelsmith/internal/store"
)

const sessionCookieName = "reelsmith_session"

const maxCodeAttempts = 5

type AuthHandler struct {
	users       *store.UserStore
	sessions    *store.SessionStore
	magicLinks  *store.MagicLinkStore
	emailClient *email.Client
	reconciler  *reconcile.Reconciler
	logger      *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	ms *store.MagicLinkStore,
	ec *email.Client,
	rec *reconcile.Reconciler,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:       us,
		sessions:    ss,
		magicLinks:  ms,
		emailClient: ec,
		reconciler:  rec,
		logger:      logger,
	}
}

// Login emails a 6-digit sign-in code. The response is identical whether or
// not the email is known, so login cannot enumerate users.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}

	addr := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(addr); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid email address")
		return
	}

	link, err := h.magicLinks.Create(addr)
	if err != nil {
		h.logger.Error("create login code", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}

	if err := h.emailClient.SendLoginCode(addr, link.Token); err != nil {
		h.logger.Error("send login code", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// Verify exchanges a login code for a session cookie, creating the user on
// first sign-in, then reconciles their subscription so limits are fresh on
// every login.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	addr := strings.ToLower(strings.TrimSpace(req.Email))

	link, err := h.magicLinks.GetByEmailAndCode(addr, strings.TrimSpace(req.Code))
	if err != nil {
		h.logger.Error("verify login code", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	if link == nil {
		// Burn an attempt on the latest pending code so codes cannot be
		// brute forced
		if pending, err := h.magicLinks.GetLatestByEmail(addr); err == nil && pending != nil {
			if attempts, err := h.magicLinks.IncrementAttempts(pending.ID); err == nil && attempts >= maxCodeAttempts {
				h.magicLinks.MarkUsed(pending.ID)
			}
		}
		writeError(w, http.StatusUnauthorized, "authentication_required", "invalid or expired code")
		return
	}

	if err := h.magicLinks.MarkUsed(link.ID); err != nil {
		h.logger.Error("mark code used", "error", err)
	}

	user, err := h.users.GetByEmail(addr)
	if err != nil {
		h.logger.Error("get user by email", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	if user == nil {
		user, err = h.users.Create(addr)
		if err != nil {
			h.logger.Error("create user", "error", err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
			return
		}
	}

	sess, err := h.sessions.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}

	// Best-effort: a provider outage must not block sign-in; the stored
	// entitlement keeps governing until the next successful run
	if h.reconciler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := h.reconciler.Reconcile(ctx, user.ID); err != nil {
			h.logger.Warn("reconcile on login", "user_id", user.ID, "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID})
}

// Logout deletes the session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessions.GetByToken(cookie.Value); err == nil && sess != nil {
			h.sessions.Delete(sess.ID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
