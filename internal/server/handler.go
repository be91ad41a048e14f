// internal/server/handler.go
//
// Package server
// ─────────────────────────────────────────────
// 提供 ledger 的 HTTP RESTful 介面。
// 每個 handler 僅負責：
//  1. 解析路徑參數與 JSON 請求
//  2. 以 LOCK_TIMEOUT 為期限呼叫 ledger.Store / ledger.Engine
//  3. 變更成功後（鎖已釋放）發佈事件並視設定寫入快照
//  4. 回傳 JSON 回應；錯誤依種類對應狀態碼（見 response.go）
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ledger/internal/events"
	"ledger/internal/ledger"
)

// DefaultLockTimeout 為未指定時每個請求取鎖的期限。
const DefaultLockTimeout = 2 * time.Second

// maxBodyBytes 為請求 body 的上限。
const maxBodyBytes = 1 << 20

// PersistFunc 將當前帳本寫入持久層。
type PersistFunc func(ctx context.Context) error

// Server 為 HTTP 層核心結構：
// - store / engine：帳本與轉帳引擎。
// - persist：持久化鉤子，/checkpoint 與 persistOnWrite 共用。
// - publisher：轉帳完成事件。
type Server struct {
	store          *ledger.Store
	engine         *ledger.Engine
	persist        PersistFunc
	persistOnWrite bool
	publisher      events.Publisher
	lockTimeout    time.Duration
	log            *zap.Logger
}

// Option 調整 Server 的建構參數。
type Option func(*Server)

// WithPersist 注入持久化鉤子；onWrite 為 true 時每次成功變更後也會寫入。
func WithPersist(fn PersistFunc, onWrite bool) Option {
	return func(s *Server) {
		s.persist = fn
		s.persistOnWrite = onWrite
	}
}

// WithPublisher 注入轉帳事件發佈器。
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLockTimeout 設定每個請求的取鎖期限。
func WithLockTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger 設定 logger。
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer 建立新的 HTTP 伺服器。
func NewServer(store *ledger.Store, opts ...Option) *Server {
	s := &Server{
		store:       store,
		engine:      ledger.NewEngine(store),
		lockTimeout: DefaultLockTimeout,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = &events.Fallback{Log: s.log}
	}
	s.log = s.log.With(zap.String("component", "http"))
	return s
}

type openAccountRequest struct {
	Name           string `json:"name"`
	DateOfBirth    string `json:"date_of_birth"`
	Address        string `json:"address"`
	SocialSecurity uint64 `json:"social_security"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type transferRequest struct {
	From   int64 `json:"from"`
	To     int64 `json:"to"`
	Amount int64 `json:"amount"`
}

// openAccount 處理 POST /accounts：同時建立使用者與支票帳戶。
func (s *Server) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	u, c, err := s.store.OpenAccount(ctx, req.Name, req.DateOfBirth, req.Address, req.SocialSecurity)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.afterWrite(r.Context(), "open_account")
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":     newUserView(u),
		"checking": c,
	})
}

// createUser 處理 POST /users。
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.store.CreateUser(req.Name, req.DateOfBirth, req.Address, req.SocialSecurity)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.afterWrite(r.Context(), "create_user")
	writeJSON(w, http.StatusCreated, newUserView(u))
}

// listUsers 處理 GET /users；不更新 last_accessed。
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.lockContext(r)
	defer cancel()

	users, err := s.store.Users(ctx)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// getUser 處理 GET /users/{id}。
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := ownerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}

// setActive 處理 PATCH /users/{id}，body 為 {"active": bool}。
func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeBadRequest(w, errors.New("field \"active\" is required"))
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	u, err := s.store.SetActive(ctx, id, *req.Active)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.afterWrite(r.Context(), "set_active")
	writeJSON(w, http.StatusOK, newUserView(u))
}

// createChecking 處理 POST /users/{id}/checking。
func (s *Server) createChecking(w http.ResponseWriter, r *http.Request) {
	id, ok := ownerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	c, err := s.store.CreateChecking(ctx, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.afterWrite(r.Context(), "create_checking")
	writeJSON(w, http.StatusCreated, c)
}

// getChecking 處理 GET /users/{id}/checking。
func (s *Server) getChecking(w http.ResponseWriter, r *http.Request) {
	id, ok := ownerID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	c, err := s.store.GetChecking(ctx, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// deposit 處理 POST /users/{id}/checking/deposit。
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, "deposit", s.store.Deposit)
}

// withdraw 處理 POST /users/{id}/checking/withdraw。
func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjust(w, r, "withdraw", s.store.Withdraw)
}

func (s *Server) adjust(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, ownerID, amount int64) (ledger.CheckingAccount, error)) {
	id, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	c, err := fn(ctx, id, req.Amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.afterWrite(r.Context(), op)
	writeJSON(w, http.StatusOK, c)
}

// transfer 處理 POST /transfers，成功時回傳收據。
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := s.lockContext(r)
	defer cancel()

	receipt, err := s.engine.Transfer(ctx, req.From, req.To, req.Amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	// 鎖已釋放；事件發佈失敗不影響已提交的轉帳。
	pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.lockTimeout)
	defer pubCancel()
	if err := s.publisher.PublishTransfer(pubCtx, receipt); err != nil {
		s.log.Warn("transfer event not published",
			zap.String("receipt_id", receipt.ID.String()), zap.Error(err))
	}
	s.afterWrite(r.Context(), "transfer")
	writeJSON(w, http.StatusOK, receipt)
}

// checkpoint 處理 POST /checkpoint：立即寫出快照。
func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	if s.persist != nil {
		ctx, cancel := s.lockContext(r)
		defer cancel()
		if err := s.persist(ctx); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// health 提供健康檢查端點：GET /health。
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lockContext 為單一請求建立取鎖期限。
func (s *Server) lockContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.lockTimeout)
}

// afterWrite 在變更成功後寫入快照；失敗只記錄，不影響回應。
func (s *Server) afterWrite(ctx context.Context, op string) {
	if s.persist == nil || !s.persistOnWrite {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lockTimeout)
	defer cancel()
	if err := s.persist(ctx); err != nil {
		s.log.Error("persist after write failed", zap.String("op", op), zap.Error(err))
	}
}

func ownerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, fmt.Errorf("invalid account id %q", raw))
		return 0, false
	}
	return id, true
}

// decodeJSON 解析單一 JSON 物件；拒絕未知欄位、尾端多餘資料與過大的 body。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeBadRequest(w, errors.New("invalid JSON body: unexpected data after the JSON object"))
		return false
	}
	return true
}
