// internal/server/server_test.go
//
// server 層的整合測試：以 httptest 模擬完整 HTTP 請求流程，驗證
// 路由、錯誤代碼映射、SSN 遮罩，以及持久化鉤子與事件發佈的觸發時機。
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger/internal/clock"
	"ledger/internal/ledger"
	"ledger/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu       sync.Mutex
	receipts []ledger.Receipt
	err      error
}

func (p *recordingPublisher) PublishTransfer(_ context.Context, r ledger.Receipt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts = append(p.receipts, r)
	return p.err
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	ts       *httptest.Server
	store    *ledger.Store
	pub      *recordingPublisher
	persists *atomic.Int32
}

func newFixture(t *testing.T, persistErr error) *fixture {
	t.Helper()
	store := ledger.NewStore(ledger.WithClock(clock.NewManual(epoch)))
	pub := &recordingPublisher{}
	var calls atomic.Int32
	s := NewServer(store,
		WithPersist(func(context.Context) error {
			calls.Add(1)
			return persistErr
		}, true),
		WithPublisher(pub),
		WithLockTimeout(time.Second),
		WithLogger(zap.NewNop()),
	)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: store, pub: pub, persists: &calls}
}

// doJSON 送出 JSON 請求並驗證狀態碼；out 非 nil 時解析回應。
func doJSON(t *testing.T, c *http.Client, method, url string, body any, wantCode int, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantCode, resp.StatusCode, "%s %s", method, url)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type openResponse struct {
	User     userView               `json:"user"`
	Checking ledger.CheckingAccount `json:"checking"`
}

func (f *fixture) open(t *testing.T, name string, balance int64) int64 {
	t.Helper()
	var out openResponse
	doJSON(t, f.ts.Client(), http.MethodPost, f.ts.URL+"/accounts", map[string]any{
		"name": name, "date_of_birth": "01/01/1990", "address": "123 Main St", "social_security": 123456789,
	}, http.StatusCreated, &out)
	if balance > 0 {
		doJSON(t, f.ts.Client(), http.MethodPost,
			fmt.Sprintf("%s/users/%d/checking/deposit", f.ts.URL, out.User.ID),
			map[string]any{"amount": balance}, http.StatusOK, nil)
	}
	return out.User.ID
}

func TestHTTPFlowAndPersistHook(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.ts.Client()

	var opened openResponse
	doJSON(t, cli, http.MethodPost, f.ts.URL+"/accounts", map[string]any{
		"name": "John", "date_of_birth": "01/01/1990", "address": "123 Main St", "social_security": 123456789,
	}, http.StatusCreated, &opened)
	assert.Equal(t, "***-**-6789", opened.User.SocialSecurity)
	assert.Equal(t, ledger.AccountTypeChecking, opened.Checking.AccountType)
	assert.Zero(t, opened.Checking.Balance)
	a := opened.User.ID

	b := f.open(t, "Jane", 500)

	var acc ledger.CheckingAccount
	doJSON(t, cli, http.MethodPost, fmt.Sprintf("%s/users/%d/checking/deposit", f.ts.URL, a),
		map[string]any{"amount": 1000}, http.StatusOK, &acc)
	assert.EqualValues(t, 1000, acc.Balance)

	doJSON(t, cli, http.MethodPost, fmt.Sprintf("%s/users/%d/checking/withdraw", f.ts.URL, a),
		map[string]any{"amount": 200}, http.StatusOK, &acc)
	assert.EqualValues(t, 800, acc.Balance)

	var receipt ledger.Receipt
	doJSON(t, cli, http.MethodPost, f.ts.URL+"/transfers",
		map[string]any{"from": a, "to": b, "amount": 300}, http.StatusOK, &receipt)
	assert.Equal(t, a, receipt.FromOwnerID)
	assert.Equal(t, b, receipt.ToOwnerID)
	assert.EqualValues(t, 300, receipt.Amount)
	assert.Equal(t, epoch, receipt.Timestamp)

	doJSON(t, cli, http.MethodGet, fmt.Sprintf("%s/users/%d/checking", f.ts.URL, a), nil, http.StatusOK, &acc)
	assert.EqualValues(t, 500, acc.Balance)
	doJSON(t, cli, http.MethodGet, fmt.Sprintf("%s/api/v1/users/%d/checking", f.ts.URL, b), nil, http.StatusOK, &acc)
	assert.EqualValues(t, 800, acc.Balance)

	require.Len(t, f.pub.receipts, 1)
	assert.Equal(t, receipt.ID, f.pub.receipts[0].ID)

	// open×2 + deposit×2 + withdraw + transfer
	assert.EqualValues(t, 6, f.persists.Load())
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.ts.Client()

	var u userView
	doJSON(t, cli, http.MethodPost, f.ts.URL+"/users", map[string]any{
		"name": "Ann", "date_of_birth": "03/03/1993", "address": "1 Oak Rd", "social_security": 42,
	}, http.StatusCreated, &u)
	assert.Equal(t, "***-**-0042", u.SocialSecurity)
	assert.True(t, u.Active)

	doJSON(t, cli, http.MethodGet, fmt.Sprintf("%s/users/%d", f.ts.URL, u.ID), nil, http.StatusOK, &u)
	assert.Equal(t, "Ann", u.Name)

	doJSON(t, cli, http.MethodGet, fmt.Sprintf("%s/users/%d/checking", f.ts.URL, u.ID), nil, http.StatusNotFound, nil)

	var c ledger.CheckingAccount
	doJSON(t, cli, http.MethodPost, fmt.Sprintf("%s/users/%d/checking", f.ts.URL, u.ID), nil, http.StatusCreated, &c)
	assert.Equal(t, u.ID, c.OwnerID)
	doJSON(t, cli, http.MethodPost, fmt.Sprintf("%s/users/%d/checking", f.ts.URL, u.ID), nil, http.StatusConflict, nil)

	doJSON(t, cli, http.MethodPatch, fmt.Sprintf("%s/users/%d", f.ts.URL, u.ID),
		map[string]any{"active": false}, http.StatusOK, &u)
	assert.False(t, u.Active)
	doJSON(t, cli, http.MethodPatch, fmt.Sprintf("%s/users/%d", f.ts.URL, u.ID),
		map[string]any{}, http.StatusBadRequest, nil)

	var users []userView
	doJSON(t, cli, http.MethodGet, f.ts.URL+"/users", nil, http.StatusOK, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "***-**-0042", users[0].SocialSecurity)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.ts.Client()
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"insufficient funds", http.MethodPost, "/transfers", map[string]any{"from": a, "to": b, "amount": 101}, http.StatusConflict, "InsufficientFunds"},
		{"self transfer", http.MethodPost, "/transfers", map[string]any{"from": a, "to": a, "amount": 1}, http.StatusBadRequest, "SelfTransfer"},
		{"zero amount", http.MethodPost, "/transfers", map[string]any{"from": a, "to": b, "amount": 0}, http.StatusBadRequest, "InvalidAmount"},
		{"missing destination", http.MethodPost, "/transfers", map[string]any{"from": a, "to": 999, "amount": 1}, http.StatusNotFound, "AccountNotFound"},
		{"unknown user", http.MethodGet, "/users/999", nil, http.StatusNotFound, "UserNotFound"},
		{"checking for unknown owner", http.MethodPost, "/users/999/checking", nil, http.StatusNotFound, "OwnerNotFound"},
		{"empty name", http.MethodPost, "/accounts", map[string]any{"name": "  "}, http.StatusBadRequest, "InvalidName"},
		{"bad id", http.MethodGet, "/users/abc", nil, http.StatusBadRequest, "BadRequest"},
		{"negative withdraw", http.MethodPost, fmt.Sprintf("/users/%d/checking/withdraw", a), map[string]any{"amount": -5}, http.StatusBadRequest, "InvalidAmount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			doJSON(t, cli, tt.method, f.ts.URL+tt.path, tt.body, tt.status, &body)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}

	// 失敗的轉帳不改變任何餘額，也不發佈事件。
	assert.Empty(t, f.pub.receipts)
	var acc ledger.CheckingAccount
	doJSON(t, cli, http.MethodGet, fmt.Sprintf("%s/users/%d/checking", f.ts.URL, a), nil, http.StatusOK, &acc)
	assert.EqualValues(t, 100, acc.Balance)
}

func TestInactiveAccountRejected(t *testing.T) {
	f := newFixture(t, nil)
	cli := f.ts.Client()
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 0)

	doJSON(t, cli, http.MethodPatch, fmt.Sprintf("%s/users/%d", f.ts.URL, b),
		map[string]any{"active": false}, http.StatusOK, nil)

	var body errorBody
	doJSON(t, cli, http.MethodPost, f.ts.URL+"/transfers",
		map[string]any{"from": a, "to": b, "amount": 10}, http.StatusUnprocessableEntity, &body)
	assert.Equal(t, "InactiveAccount", body.Code)
	assert.Contains(t, body.Error, "to account")
}

func TestBadJSON(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/transfers", bytes.NewBufferString("{bad json}"))
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectsMalformedBodies(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"trailing data", `{"name":"A"} {"name":"B"}`},
		{"unknown field", `{"name":"A","balance":100}`},
		{"oversized body", `{"name":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.ts.Client().Post(f.ts.URL+"/accounts", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "BadRequest", body.Code)
		})
	}

	assert.Zero(t, f.store.Len())
	assert.Zero(t, f.persists.Load())
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	doJSON(t, f.ts.Client(), http.MethodGet, f.ts.URL+"/transfers", nil, http.StatusMethodNotAllowed, nil)
	doJSON(t, f.ts.Client(), http.MethodGet, f.ts.URL+"/nowhere", nil, http.StatusNotFound, nil)
}

func TestPublishAndPersistFailuresDoNotFailTransfer(t *testing.T) {
	f := newFixture(t, fmt.Errorf("%w: disk full", storage.ErrPersistence))
	f.pub.err = errors.New("broker down")
	a := f.open(t, "A", 100)
	b := f.open(t, "B", 0)

	doJSON(t, f.ts.Client(), http.MethodPost, f.ts.URL+"/transfers",
		map[string]any{"from": a, "to": b, "amount": 40}, http.StatusOK, nil)
	assert.Len(t, f.pub.receipts, 1)
}

func TestCheckpointFailureReported(t *testing.T) {
	f := newFixture(t, fmt.Errorf("%w: disk full", storage.ErrPersistence))

	var body errorBody
	doJSON(t, f.ts.Client(), http.MethodPost, f.ts.URL+"/checkpoint", nil, http.StatusInternalServerError, &body)
	assert.Equal(t, "PersistenceError", body.Code)
}

func TestCheckpointWritesSnapshot(t *testing.T) {
	store := ledger.NewStore(ledger.WithClock(clock.NewManual(epoch)))
	fsys := afero.NewMemMapFs()
	p := storage.New(storage.NewFileBackend(fsys, "/data/db.json"), zap.NewNop())
	s := NewServer(store, WithPersist(func(ctx context.Context) error {
		return p.Save(ctx, store)
	}, false))
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	var opened openResponse
	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/v1/accounts",
		map[string]any{"name": "John", "social_security": 123456789}, http.StatusCreated, &opened)

	// persistOnWrite 關閉時，變更後尚未寫入。
	snap, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Users)

	doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/v1/checkpoint", nil, http.StatusNoContent, nil)

	snap, err = p.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, opened.User.ID, snap.Users[0].ID)
	assert.EqualValues(t, 123456789, snap.Users[0].SocialSecurity)
	require.Len(t, snap.Checking, 1)
}

func TestWriteErrTimeoutSetsRetryAfter(t *testing.T) {
	s := NewServer(ledger.NewStore())
	rec := httptest.NewRecorder()
	s.writeErr(rec, fmt.Errorf("%w: %w", ledger.ErrTimeout, context.DeadlineExceeded))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Timeout", body.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	var out map[string]string
	doJSON(t, f.ts.Client(), http.MethodGet, f.ts.URL+"/api/v1/health", nil, http.StatusOK, &out)
	assert.Equal(t, "ok", out["status"])
}

func TestMaskSSN(t *testing.T) {
	assert.Equal(t, "***-**-6789", maskSSN(123456789))
	assert.Equal(t, "***-**-0007", maskSSN(7))
	assert.Equal(t, "***-**-0000", maskSSN(0))
}
