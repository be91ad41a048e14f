// internal/ledger/errors.go
//
// 本檔集中定義「領域錯誤（domain errors）」。
// 所有錯誤發生時帳本皆未被修改，上層 HTTP handler 依種類轉換成對應的狀態碼。

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrOwnerNotFound 代表開立支票帳戶時找不到擁有者。
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrDuplicateAccount 代表擁有者已有支票帳戶（一人一戶）。
	ErrDuplicateAccount = errors.New("owner already has a checking account")

	// ErrUserNotFound 代表查無使用者。
	ErrUserNotFound = errors.New("user not found")

	// ErrAccountNotFound 代表查無支票帳戶。
	ErrAccountNotFound = errors.New("account not found")

	// ErrInactiveAccount 代表擁有者已停用，不得參與交易。
	ErrInactiveAccount = errors.New("account is inactive")

	// ErrInvalidAmount 代表金額非法（<= 0）。
	ErrInvalidAmount = errors.New("amount must be > 0")

	// ErrSelfTransfer 代表轉出與轉入為同一擁有者；一律拒絕。
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrInvalidName 代表使用者名稱為空。
	ErrInvalidName = errors.New("name must not be empty")

	// ErrInsufficientFunds 代表餘額不足。屬於正常的業務結果，不是系統錯誤。
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow 代表入帳後餘額會超出 int64。
	ErrBalanceOverflow = errors.New("balance would overflow")

	// ErrTimeout 代表在期限內取不到帳戶鎖；帳本未變更，可安全重試。
	ErrTimeout = errors.New("timed out waiting for account lock")

	// ErrIDsExhausted 代表配號器用盡，視為致命錯誤（panic）。
	ErrIDsExhausted = errors.New("account identifiers exhausted")
)

// Side 標示轉帳的哪一方。
type Side string

const (
	SideFrom Side = "from"
	SideTo   Side = "to"
)

// SideError 指出轉帳失敗是哪一方、哪個擁有者造成的。
// errors.Is(err, ErrAccountNotFound) 等判斷仍然成立。
type SideError struct {
	Side    Side
	OwnerID int64
	Err     error
}

func (e *SideError) Error() string {
	return fmt.Sprintf("%s account %d: %v", e.Side, e.OwnerID, e.Err)
}

func (e *SideError) Unwrap() error { return e.Err }
