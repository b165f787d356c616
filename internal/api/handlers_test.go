package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/agentcash/internal/confirm"
	"github.com/punchamoorthee/agentcash/internal/domain"
	"github.com/punchamoorthee/agentcash/internal/events"
	"github.com/punchamoorthee/agentcash/internal/fee"
	"github.com/punchamoorthee/agentcash/internal/identity"
	"github.com/punchamoorthee/agentcash/internal/ledger"
	"github.com/punchamoorthee/agentcash/internal/models"
	"github.com/punchamoorthee/agentcash/internal/registry"
	"github.com/punchamoorthee/agentcash/internal/service"
	"github.com/punchamoorthee/agentcash/internal/store"
)

const testSealKey = "Zk6IWX04Qm7ThZ5dJi8Xo4zyb8g9wfcxr5jxa1i3JKU="

type testServer struct {
	router http.Handler
	ledger *ledger.Memory
	now    *time.Time
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	dir := identity.NewMemory(
		domain.Account{Ref: "client-1", Role: domain.RoleClient, Phone: "+250788000001", Active: true},
		domain.Account{Ref: "agent-1", Role: domain.RoleAgent, Phone: "+250788000002", Active: true},
		domain.Account{Ref: "admin-1", Role: domain.RoleAdmin, Active: true},
	)
	led := ledger.NewMemory(ledger.DefaultLimits())
	led.Seed("client-1", domain.BookMain, 1_000_000)
	led.Seed("agent-1", domain.BookFloat, 1_000_000)

	codes, err := confirm.NewVerifier(testSealKey, bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	ts := &testServer{ledger: led, now: &now}

	svc := service.New(service.Deps{
		Registry:  registry.New(store.NewMemory(), zap.NewNop()),
		Fees:      fee.Default(),
		Codes:     codes,
		Ledger:    led,
		Directory: dir,
		Events:    events.Nop{},
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return *ts.now },
	}, service.Options{
		Kinds: map[domain.Kind]service.KindRules{
			domain.KindWithdrawal:   {MinAmount: 10_000, TTL: 24 * time.Hour},
			domain.KindFloat:        {MinAmount: 10_000, TTL: 24 * time.Hour},
			domain.KindCancellation: {TTL: 24 * time.Hour},
		},
		CancellationWindow: 30 * time.Minute,
		LedgerTimeout:      time.Second,
		PlatformAccount:    "platform",
		FloatFloor:         100_000,
	})

	ts.router = NewHandler(svc, zap.NewNop(), opts).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createWithdrawal(t *testing.T) models.CreatedResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/requests", "client-1",
		`{"schema_version":1,"kind":"WITHDRAWAL","counterparty":"+250 788 000 002","amount":100000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.CreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateAndApprove(t *testing.T) {
	ts := newTestServer(t, Options{})
	created := ts.createWithdrawal(t)

	assert.Equal(t, int64(2_000), created.Request.Fee)
	assert.Equal(t, domain.StatusPending, created.Request.Status)
	assert.Len(t, created.ConfirmationCode, confirm.CodeLength)

	rec := ts.do(t, http.MethodGet, "/api/v1/requests?role=counterparty", "agent-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Requests, 1)
	assert.Empty(t, list.Requests[0].ConfirmationCode)

	path := "/api/v1/requests/" + created.Request.Reference
	rec = ts.do(t, http.MethodPost, path+"/approve", "agent-1", `{"code":"`+created.ConfirmationCode+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view domain.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.StatusApproved, view.Status)

	rec = ts.do(t, http.MethodPost, path+"/approve", "agent-1", `{"code":"`+created.ConfirmationCode+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	b, _ := ts.ledger.Balance(context.Background(), "client-1", domain.BookMain)
	assert.Equal(t, int64(898_000), b)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, Options{})
	created := ts.createWithdrawal(t)
	path := "/api/v1/requests/" + created.Request.Reference

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   string
		want   int
	}{
		{"missing actor", http.MethodGet, path, "", "", http.StatusUnauthorized},
		{"unknown field", http.MethodPost, "/api/v1/requests", "client-1", `{"schema_version":1,"kind":"FLOAT","amount":1,"fee":0}`, http.StatusBadRequest},
		{"wrong schema version", http.MethodPost, "/api/v1/requests", "client-1", `{"schema_version":2,"kind":"WITHDRAWAL"}`, http.StatusUnprocessableEntity},
		{"validation", http.MethodPost, "/api/v1/requests", "client-1", `{"schema_version":1,"kind":"WITHDRAWAL","counterparty":"agent-1","amount":5}`, http.StatusUnprocessableEntity},
		{"not found", http.MethodGet, "/api/v1/requests/WD-NOPE", "client-1", "", http.StatusNotFound},
		{"stranger", http.MethodGet, path, "admin-1", "", http.StatusForbidden},
		{"wrong code", http.MethodPost, path + "/approve", "agent-1", `{"code":"222222"}`, http.StatusForbidden},
		{"approve by requester", http.MethodPost, path + "/approve", "client-1", `{"code":"222222"}`, http.StatusForbidden},
		{"bad role", http.MethodGet, "/api/v1/requests?role=boss", "client-1", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestExpiredIsGone(t *testing.T) {
	ts := newTestServer(t, Options{})
	created := ts.createWithdrawal(t)
	*ts.now = ts.now.Add(25 * time.Hour)

	rec := ts.do(t, http.MethodPost, "/api/v1/requests/"+created.Request.Reference+"/approve", "agent-1",
		`{"code":"`+created.ConfirmationCode+`"}`)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestLedgerFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t, Options{})
	created := ts.createWithdrawal(t)
	ts.ledger.AfterApply = func(string) error { return errors.New("connection reset") }

	rec := ts.do(t, http.MethodPost, "/api/v1/requests/"+created.Request.Reference+"/approve", "agent-1",
		`{"code":"`+created.ConfirmationCode+`"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/requests/"+created.Request.Reference, "client-1", "")
	var view domain.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.Equal(t, created.ConfirmationCode, view.ConfirmationCode)
}

func TestRejectAndCancelRoutes(t *testing.T) {
	ts := newTestServer(t, Options{})

	a := ts.createWithdrawal(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/requests/"+a.Request.Reference+"/reject", "agent-1", `{"note":"no cash today"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view domain.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.StatusRejected, view.Status)
	assert.Equal(t, "no cash today", view.ResponseNote)

	b := ts.createWithdrawal(t)
	rec = ts.do(t, http.MethodPost, "/api/v1/requests/"+b.Request.Reference+"/cancel", "client-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/requests", "client-1", "")
	var list models.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Requests, 2)
}

func TestRateLimitPerActor(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitPerSec: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/requests", "client-1", "").Code)
	}
	rec := ts.do(t, http.MethodGet, "/api/v1/requests", "client-1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/requests", "agent-1", "").Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", "", "").Code)

	down := newTestServer(t, Options{Health: func(context.Context) error { return errors.New("db down") }})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/health", "", "").Code)
}
