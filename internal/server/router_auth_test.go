package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/huddle/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

func authorizeWith(t *testing.T, validator SessionValidator) (*httptest.ResponseRecorder, *gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/notifications", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions:      validator,
		elevatedRoles: []string{testElevatedRole},
		logger:        zap.New(core),
	}
	handler.authorizeRequest(ctx)
	return recorder, ctx, logs
}

func TestAuthorizeRequestLogsExpiredSessionAtInfoLevel(t *testing.T) {
	recorder, _, logs := authorizeWith(t, stubSessionValidator{err: auth.ErrExpiredSessionToken})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired session, got %s", entries[0].Level)
	}
	if entries[0].Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsUnexpectedErrorAtWarnLevel(t *testing.T) {
	recorder, _, logs := authorizeWith(t, stubSessionValidator{err: errors.New("signature mismatch")})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestMarksElevatedSessions(t *testing.T) {
	claims := auth.SessionClaims{UserID: "u1", UserRoles: []string{"Admin"}}
	recorder, ctx, _ := authorizeWith(t, stubSessionValidator{claims: claims})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", recorder.Code)
	}
	if ctx.GetString(userIDContextKey) != "u1" || !ctx.GetBool(elevatedContextKey) {
		t.Fatalf("expected elevated user u1 in context, got %q / %v", ctx.GetString(userIDContextKey), ctx.GetBool(elevatedContextKey))
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := newTestServer(t)

	body := decodeEnvelope(t, server.request(t, http.MethodGet, "/api/notifications", "", nil), http.StatusUnauthorized, nil)
	if body.Success || body.Error == "" {
		t.Fatalf("unexpected unauthenticated body %#v", body)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/api/notifications", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testCookieName, Value: sessionToken(t, "u1")})
	recorder := httptest.NewRecorder()
	server.handler.ServeHTTP(recorder, cookieRequest)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected cookie session to be accepted, got %d", recorder.Code)
	}

	health := server.request(t, http.MethodGet, "/healthz", "", nil)
	if health.Code != http.StatusOK {
		t.Fatalf("expected health check without session, got %d", health.Code)
	}
}
