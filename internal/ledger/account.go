// Package ledger 定義帳本的領域模型與業務規則。
// 本檔定義 UserAccount、CheckingAccount 與轉帳收據，不含任何 HTTP 或儲存細節。

package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AccountTypeChecking 為目前唯一的帳戶種類。
const AccountTypeChecking = "Checking"

// UserAccount represents an account holder.
type UserAccount struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	DateOfBirth    string    `json:"date_of_birth"`
	Address        string    `json:"address"`
	SocialSecurity uint64    `json:"social_security"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
}

// CheckingAccount represents the single checking account of a user.
// Balance is kept in minor currency units.
type CheckingAccount struct {
	OwnerID         int64     `json:"account_owner_id"`
	AccountType     string    `json:"account_type"`
	Balance         int64     `json:"balance"`
	CreatedAt       time.Time `json:"created_at"`
	LastTransaction time.Time `json:"last_transaction"`
}

// Receipt 為成功轉帳的收據。
type Receipt struct {
	ID          uuid.UUID `json:"id"`
	FromOwnerID int64     `json:"from_owner_id"`
	ToOwnerID   int64     `json:"to_owner_id"`
	Amount      int64     `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}
