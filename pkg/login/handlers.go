package login

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/httputil"
	"github.com/oidcbridge/oidcbridge/pkg/identity"
	"github.com/oidcbridge/oidcbridge/pkg/observability"
	"github.com/oidcbridge/oidcbridge/pkg/provision"
	"github.com/oidcbridge/oidcbridge/pkg/tokensource"
)

const (
	stateCookieName   = "oidcbridge_state"
	sessionCookieName = "oidcbridge_session"

	stateCookieTTL = 10 * time.Minute
)

// Completer finishes a login for verified claims.
type Completer interface {
	Complete(ctx context.Context, userInfo claims.Claims) (*directory.Account, error)
}

// SessionStore issues and revokes bridge sessions.
type SessionStore interface {
	Create(ctx context.Context, accountID, externalID string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// Handlers exposes the login flow over HTTP.
type Handlers struct {
	source   tokensource.TokenSource
	flow     Completer
	sessions SessionStore
	metrics  *observability.Metrics
	log      *logrus.Logger

	// SecureCookies marks issued cookies Secure. Enable behind TLS.
	SecureCookies bool

	// SessionTTL bounds the session cookie lifetime.
	SessionTTL time.Duration
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(source tokensource.TokenSource, flow Completer, sessions SessionStore,
	metrics *observability.Metrics, log *logrus.Logger) *Handlers {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{
		source:     source,
		flow:       flow,
		sessions:   sessions,
		metrics:    metrics,
		log:        log,
		SessionTTL: 8 * time.Hour,
	}
}

// Register mounts the login routes on the router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/auth/login", h.handleLogin).Methods("GET")
	router.HandleFunc("/auth/callback", h.handleCallback).Methods("GET")
	router.HandleFunc("/auth/logout", h.handleLogout).Methods("GET", "POST")
	router.HandleFunc("/auth/session", h.handleSession).Methods("GET")
}

// handleLogin starts the authorization code flow.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		Expires:  time.Now().Add(stateCookieTTL),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.source.AuthCodeURL(state), http.StatusFound)
}

// handleCallback finishes the authorization code flow.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		h.log.WithFields(logrus.Fields{
			"error":       errCode,
			"description": r.URL.Query().Get("error_description"),
		}).Warn("provider returned an authorization error")
		h.finish(w, "denied", start, http.StatusForbidden, "authorization denied by provider")
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		h.finish(w, "error", start, http.StatusBadRequest, "state mismatch")
		return
	}
	h.clearCookie(w, stateCookieName, "/auth")

	code := r.URL.Query().Get("code")
	if code == "" {
		h.finish(w, "error", start, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.source.Exchange(ctx, code)
	if err != nil {
		h.log.WithError(err).Error("code exchange failed")
		h.finish(w, "error", start, http.StatusBadGateway, "token exchange failed")
		return
	}

	userInfo, subject, err := h.source.Claims(ctx, token)
	if err != nil {
		h.log.WithError(err).Error("token verification failed")
		h.finish(w, "error", start, http.StatusUnauthorized, "token verification failed")
		return
	}

	account, err := h.flow.Complete(ctx, userInfo)
	if err != nil {
		outcome, status, msg := classifyLoginError(err)
		h.log.WithError(err).WithField("subject", subject).Warn("login denied")
		h.finish(w, outcome, start, status, msg)
		return
	}

	session, err := h.sessions.Create(ctx, account.ID, subject)
	if err != nil {
		h.log.WithError(err).Error("failed to create session")
		h.finish(w, "error", start, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	h.metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.metrics.LoginDuration.Observe(time.Since(start).Seconds())
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout revokes the current session.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.log.WithError(err).Warn("failed to delete session")
		}
	}
	h.clearCookie(w, sessionCookieName, "/")
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleSession reports the current session for debugging and frontend
// bootstrap.
func (h *Handlers) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "no active session")
		return
	}

	session, err := h.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		h.log.WithError(err).Error("failed to load session")
		httputil.WriteInternalError(w, errors.New("failed to load session"))
		return
	}
	if session == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "session expired")
		return
	}

	if err := httputil.WriteJSON(w, http.StatusOK, session); err != nil {
		h.log.WithError(err).Error("failed to encode session")
	}
}

func (h *Handlers) finish(w http.ResponseWriter, outcome string, start time.Time, status int, msg string) {
	h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	h.metrics.LoginDuration.Observe(time.Since(start).Seconds())
	httputil.WriteErrorMessage(w, status, msg)
}

func (h *Handlers) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
	})
}

// classifyLoginError maps a flow error to a metrics outcome label, an
// HTTP status and a response message.
func classifyLoginError(err error) (outcome string, status int, msg string) {
	switch {
	case errors.Is(err, identity.ErrNoConfiguration):
		return "error", http.StatusServiceUnavailable, "bridge is not configured"
	case errors.Is(err, ErrNotEligible):
		return "denied", http.StatusForbidden, "account is no longer eligible"
	case errors.Is(err, identity.ErrForbiddenBackend):
		return "denied", http.StatusForbidden, "account backend is not allowed"
	case errors.Is(err, identity.ErrAmbiguousUser):
		return "denied", http.StatusForbidden, "email matches more than one account"
	case errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, provision.ErrDisabled),
		errors.Is(err, provision.ErrNotAuthorized):
		return "denied", http.StatusForbidden, "no matching account"
	default:
		return "error", http.StatusInternalServerError, "login failed"
	}
}
