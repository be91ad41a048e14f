// internal/server/response.go
//
// 統一 HTTP 回應格式：成功回應為 JSON，錯誤回應為 {"error": msg, "code": KIND}。
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ledger/internal/ledger"
	"ledger/internal/storage"
)

// retryAfter 為 Timeout 時建議客戶端等待的秒數。
const retryAfter = 1

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// userView 為對外輸出的使用者；社會安全碼只留末四碼。
type userView struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	DateOfBirth    string    `json:"date_of_birth"`
	Address        string    `json:"address"`
	SocialSecurity string    `json:"social_security"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
}

func newUserView(u ledger.UserAccount) userView {
	return userView{
		ID:             u.ID,
		Name:           u.Name,
		Active:         u.Active,
		DateOfBirth:    u.DateOfBirth,
		Address:        u.Address,
		SocialSecurity: maskSSN(u.SocialSecurity),
		CreatedAt:      u.CreatedAt,
		LastAccessed:   u.LastAccessed,
	}
}

// maskSSN 以 ***-**-1234 的形式輸出。
func maskSSN(ssn uint64) string {
	digits := fmt.Sprintf("%04d", ssn%10000)
	return "***-**-" + digits
}

// writeJSON 統一輸出成功回應。
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "BadRequest"})
}

// writeErr 依錯誤種類輸出狀態碼；非預期錯誤另外記錄。
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// classify 將錯誤對應成 HTTP 狀態碼與錯誤代碼。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrOwnerNotFound):
		return http.StatusNotFound, "OwnerNotFound"
	case errors.Is(err, ledger.ErrUserNotFound):
		return http.StatusNotFound, "UserNotFound"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "AccountNotFound"
	case errors.Is(err, ledger.ErrDuplicateAccount):
		return http.StatusConflict, "DuplicateAccount"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "InsufficientFunds"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusConflict, "BalanceOverflow"
	case errors.Is(err, ledger.ErrInactiveAccount):
		return http.StatusUnprocessableEntity, "InactiveAccount"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "InvalidAmount"
	case errors.Is(err, ledger.ErrSelfTransfer):
		return http.StatusBadRequest, "SelfTransfer"
	case errors.Is(err, ledger.ErrInvalidName):
		return http.StatusBadRequest, "InvalidName"
	case errors.Is(err, ledger.ErrTimeout):
		return http.StatusServiceUnavailable, "Timeout"
	case errors.Is(err, storage.ErrCorruptStore):
		return http.StatusInternalServerError, "CorruptStore"
	case errors.Is(err, storage.ErrPersistence):
		return http.StatusInternalServerError, "PersistenceError"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}
