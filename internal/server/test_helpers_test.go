package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/huddle/internal/auth"
	"github.com/MarcoPoloResearchLab/huddle/internal/broadcast"
	"github.com/MarcoPoloResearchLab/huddle/internal/channels"
	"github.com/MarcoPoloResearchLab/huddle/internal/database"
	"github.com/MarcoPoloResearchLab/huddle/internal/directory"
	"github.com/MarcoPoloResearchLab/huddle/internal/notifications"
	"github.com/MarcoPoloResearchLab/huddle/internal/operations"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "mprlab-auth"
	testCookieName    = "app_session"
	testElevatedRole  = "admin"
)

type testServer struct {
	handler       http.Handler
	db            *gorm.DB
	directory     *directory.Service
	channels      *channels.Service
	operations    *operations.Service
	notifications *notifications.Service
	dispatcher    *broadcast.Dispatcher
	fanout        *broadcast.Fanout
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "huddle.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := broadcast.NewDispatcher()
	transport := broadcast.NewLocalTransport(dispatcher, nil)
	fanout, err := broadcast.NewFanout(broadcast.FanoutConfig{Transport: transport})
	if err != nil {
		t.Fatalf("failed to construct fanout: %v", err)
	}

	directoryService, err := directory.NewService(directory.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct directory: %v", err)
	}
	channelService, err := channels.NewService(channels.ServiceConfig{
		Database:  db,
		Directory: directoryService,
		Notifier:  fanout,
	})
	if err != nil {
		t.Fatalf("failed to construct channels service: %v", err)
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database: db,
		Notifier: fanout,
	})
	if err != nil {
		t.Fatalf("failed to construct notifications service: %v", err)
	}
	operationService, err := operations.NewService(operations.ServiceConfig{
		Database:      db,
		Transport:     transport,
		Notifications: notificationService,
		Rooms:         channelService,
	})
	if err != nil {
		t.Fatalf("failed to construct operations service: %v", err)
	}
	t.Cleanup(func() {
		operationService.Wait()
		fanout.Close()
	})

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Profiles:          directoryService,
		Channels:          channelService,
		Operations:        operationService,
		Notifications:     notificationService,
		Realtime:          dispatcher,
		ElevatedRoles:     []string{testElevatedRole},
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return testServer{
		handler:       handler,
		db:            db,
		directory:     directoryService,
		channels:      channelService,
		operations:    operationService,
		notifications: notificationService,
		dispatcher:    dispatcher,
		fanout:        fanout,
	}
}

func (s testServer) seedProfiles(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.directory.UpsertProfile(context.Background(), directory.Profile{ID: id, Name: "Member " + id}); err != nil {
			t.Fatalf("failed to seed profile %s: %v", id, err)
		}
	}
}

func sessionToken(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	now := time.Now()
	claims := auth.SessionClaims{
		UserID:    userID,
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session token: %v", err)
	}
	return token
}

func (s testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, req)
	return recorder
}

func (s testServer) as(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.request(t, method, path, sessionToken(t, userID), body)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder, status int, data any) envelope {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	var body envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	if data != nil {
		if err := json.Unmarshal(body.Data, data); err != nil {
			t.Fatalf("failed to decode data %q: %v", string(body.Data), err)
		}
	}
	return body
}

func (s testServer) createChannel(t *testing.T, ownerID string, payload map[string]any) string {
	t.Helper()
	var details channels.ChannelDetails
	decodeEnvelope(t, s.as(t, http.MethodPost, "/api/channels", ownerID, payload), http.StatusCreated, &details)
	if details.ID == "" {
		t.Fatalf("expected created channel id")
	}
	return details.ID
}
