package login

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/oidcbridge/oidcbridge/pkg/claims"
	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/identity"
	"github.com/oidcbridge/oidcbridge/pkg/tokensource"
)

type fakeTokenSource struct {
	exchangeErr error
	claimsErr   error
	userInfo    claims.Claims
	subject     string
}

func (s *fakeTokenSource) AuthCodeURL(state string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state)
}

func (s *fakeTokenSource) Exchange(context.Context, string) (*oauth2.Token, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &oauth2.Token{AccessToken: "at"}, nil
}

func (s *fakeTokenSource) Claims(context.Context, *oauth2.Token) (claims.Claims, string, error) {
	if s.claimsErr != nil {
		return claims.Claims{}, "", s.claimsErr
	}
	return s.userInfo, s.subject, nil
}

func (s *fakeTokenSource) WellKnownConfig(context.Context) (*tokensource.WellKnown, error) {
	return &tokensource.WellKnown{Issuer: "https://idp.example"}, nil
}

type fakeCompleter struct {
	account *directory.Account
	err     error
}

func (c *fakeCompleter) Complete(context.Context, claims.Claims) (*directory.Account, error) {
	return c.account, c.err
}

type fakeSessions struct {
	sessions map[string]*Session
	deleted  []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*Session{}}
}

func (s *fakeSessions) Create(_ context.Context, accountID, externalID string) (*Session, error) {
	session := &Session{
		ID:         "sess-" + accountID,
		AccountID:  accountID,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *fakeSessions) Get(_ context.Context, id string) (*Session, error) {
	return s.sessions[id], nil
}

func (s *fakeSessions) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.sessions, id)
	return nil
}

func newTestRouter(source tokensource.TokenSource, flow Completer, sessions SessionStore) *mux.Router {
	h := NewHandlers(source, flow, sessions, nil, nil)
	router := mux.NewRouter()
	h.Register(router)
	return router
}

func TestHandleLoginRedirectsWithState(t *testing.T) {
	router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{}, newFakeSessions())

	req := httptest.NewRequest("GET", "/auth/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, state, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
}

func callbackRequest(state, code string) *http.Request {
	req := httptest.NewRequest("GET", "/auth/callback?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(code), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state})
	return req
}

func TestHandleCallbackSuccess(t *testing.T) {
	source := &fakeTokenSource{subject: "sub-1", userInfo: claims.Claims{}}
	sessions := newFakeSessions()
	router := newTestRouter(source, &fakeCompleter{account: &directory.Account{ID: "acc-1"}}, sessions)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-1", "code-1"))

	require.Equal(t, http.StatusFound, rec.Code)

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.Equal(t, "sess-acc-1", sessionCookie.Value)
	assert.Equal(t, "sub-1", sessions.sessions["sess-acc-1"].ExternalID)
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{}, newFakeSessions())

	req := httptest.NewRequest("GET", "/auth/callback?state=other&code=code-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "state-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCallbackProviderError(t *testing.T) {
	router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{}, newFakeSessions())

	req := httptest.NewRequest("GET", "/auth/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	source := &fakeTokenSource{exchangeErr: errors.New("provider unreachable")}
	router := newTestRouter(source, &fakeCompleter{}, newFakeSessions())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, callbackRequest("state-1", "code-1"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleCallbackFlowDenied(t *testing.T) {
	tests := []struct {
		name       string
		flowErr    error
		wantStatus int
	}{
		{"not eligible", ErrNotEligible, http.StatusForbidden},
		{"unknown user", identity.ErrUserNotFound, http.StatusForbidden},
		{"ambiguous email", identity.ErrAmbiguousUser, http.StatusForbidden},
		{"forbidden backend", identity.ErrForbiddenBackend, http.StatusForbidden},
		{"not configured", identity.ErrNoConfiguration, http.StatusServiceUnavailable},
		{"internal failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{err: tt.flowErr}, newFakeSessions())

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, callbackRequest("state-1", "code-1"))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandleLogoutDeletesSession(t *testing.T) {
	sessions := newFakeSessions()
	_, err := sessions.Create(context.Background(), "acc-1", "sub-1")
	require.NoError(t, err)

	router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{}, sessions)

	req := httptest.NewRequest("GET", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-acc-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, []string{"sess-acc-1"}, sessions.deleted)
}

func TestHandleSession(t *testing.T) {
	sessions := newFakeSessions()
	_, err := sessions.Create(context.Background(), "acc-1", "sub-1")
	require.NoError(t, err)

	router := newTestRouter(&fakeTokenSource{}, &fakeCompleter{}, sessions)

	req := httptest.NewRequest("GET", "/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-acc-1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"account_id":"acc-1"`)

	req = httptest.NewRequest("GET", "/auth/session", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
