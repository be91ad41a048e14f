// internal/ledger/store.go

// Package ledger 定義核心商業邏輯：使用者與支票帳戶的建立、查詢、存提款與轉帳。
// 每位擁有者有一把專屬鎖；跨帳戶操作一律依 ID 遞增順序取鎖，避免死結。
// 金額以 int64 的最小貨幣單位（如分）儲存，避免浮點誤差。
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"ledger/internal/clock"
)

// Store 為帳本的聚合根 (Aggregate Root)，是帳戶狀態唯一的擁有者。
// - mu：保護 entries 的結構（新增與查找），不保護帳戶內容。
// - entries：擁有者 ID → entry；entry 內容由各自的鎖保護。
// - ids：配號器。
type Store struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	ids     *Allocator
	clock   clock.Clock
}

// Option 調整 Store 的建構參數。
type Option func(*Store)

// WithClock 指定時間來源（測試時使用 clock.Manual）。
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore 建立空白帳本。
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[int64]*entry),
		ids:     NewAllocator(0),
		clock:   clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser 建立使用者：配發新 ID、設定 active=true 與建立/存取時間。
// 唯一的失敗情況是名稱為空；配號器用盡時 panic。
func (s *Store) CreateUser(name, dateOfBirth, address string, socialSecurity uint64) (UserAccount, error) {
	if strings.TrimSpace(name) == "" {
		return UserAccount{}, ErrInvalidName
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	u := UserAccount{
		ID:             s.ids.Next(),
		Name:           name,
		Active:         true,
		DateOfBirth:    dateOfBirth,
		Address:        address,
		SocialSecurity: socialSecurity,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	s.entries[u.ID] = newEntry(u)
	return u, nil
}

// CreateChecking 為擁有者開立餘額為 0 的支票帳戶。
func (s *Store) CreateChecking(ctx context.Context, ownerID int64) (CheckingAccount, error) {
	var out CheckingAccount
	err := s.withLock(ctx, []int64{ownerID}, func(locked map[int64]*entry) error {
		e, ok := locked[ownerID]
		if !ok {
			return ErrOwnerNotFound
		}
		if !e.user.Active {
			return ErrInactiveAccount
		}
		if e.checking != nil {
			return ErrDuplicateAccount
		}
		now := s.clock.Now()
		e.checking = &CheckingAccount{
			OwnerID:         ownerID,
			AccountType:     AccountTypeChecking,
			CreatedAt:       now,
			LastTransaction: now,
		}
		out = *e.checking
		return nil
	})
	return out, err
}

// OpenAccount 以單一邏輯操作同時建立使用者與其支票帳戶。
// 兩筆紀錄組成同一個 entry 後才放進 entries，其他操作不會看到只有使用者的中間狀態。
func (s *Store) OpenAccount(ctx context.Context, name, dateOfBirth, address string, socialSecurity uint64) (UserAccount, CheckingAccount, error) {
	if strings.TrimSpace(name) == "" {
		return UserAccount{}, CheckingAccount{}, ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return UserAccount{}, CheckingAccount{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	u := UserAccount{
		ID:             s.ids.Next(),
		Name:           name,
		Active:         true,
		DateOfBirth:    dateOfBirth,
		Address:        address,
		SocialSecurity: socialSecurity,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	c := CheckingAccount{
		OwnerID:         u.ID,
		AccountType:     AccountTypeChecking,
		CreatedAt:       now,
		LastTransaction: now,
	}
	e := newEntry(u)
	e.checking = &c
	s.entries[u.ID] = e
	return u, c, nil
}

// GetUser 回傳使用者的值拷貝，並更新 last_accessed。
func (s *Store) GetUser(ctx context.Context, id int64) (UserAccount, error) {
	var out UserAccount
	err := s.withLock(ctx, []int64{id}, func(locked map[int64]*entry) error {
		e, ok := locked[id]
		if !ok {
			return ErrUserNotFound
		}
		e.user.LastAccessed = s.clock.Now()
		out = e.user
		return nil
	})
	return out, err
}

// GetChecking 回傳擁有者支票帳戶的值拷貝。
func (s *Store) GetChecking(ctx context.Context, ownerID int64) (CheckingAccount, error) {
	var out CheckingAccount
	err := s.withLock(ctx, []int64{ownerID}, func(locked map[int64]*entry) error {
		e, ok := locked[ownerID]
		if !ok || e.checking == nil {
			return ErrAccountNotFound
		}
		out = *e.checking
		return nil
	})
	return out, err
}

// SetActive 啟用或停用使用者；停用後其帳戶不得參與交易。
func (s *Store) SetActive(ctx context.Context, id int64, active bool) (UserAccount, error) {
	var out UserAccount
	err := s.withLock(ctx, []int64{id}, func(locked map[int64]*entry) error {
		e, ok := locked[id]
		if !ok {
			return ErrUserNotFound
		}
		e.user.Active = active
		e.user.LastAccessed = s.clock.Now()
		out = e.user
		return nil
	})
	return out, err
}

// Deposit 存款：金額需 > 0，入帳後不得超出 int64。
func (s *Store) Deposit(ctx context.Context, ownerID, amount int64) (CheckingAccount, error) {
	return s.adjust(ctx, ownerID, amount, func(c *CheckingAccount) error {
		if c.Balance > math.MaxInt64-amount {
			return ErrBalanceOverflow
		}
		c.Balance += amount
		return nil
	})
}

// Withdraw 提款：金額需 > 0 且不得超過餘額（維持非負）。
func (s *Store) Withdraw(ctx context.Context, ownerID, amount int64) (CheckingAccount, error) {
	return s.adjust(ctx, ownerID, amount, func(c *CheckingAccount) error {
		if c.Balance < amount {
			return ErrInsufficientFunds
		}
		c.Balance -= amount
		return nil
	})
}

// adjust 為單一帳戶的餘額變更：先完整檢查，再於同一臨界區內套用。
func (s *Store) adjust(ctx context.Context, ownerID, amount int64, apply func(*CheckingAccount) error) (CheckingAccount, error) {
	if amount <= 0 {
		return CheckingAccount{}, ErrInvalidAmount
	}
	var out CheckingAccount
	err := s.withLock(ctx, []int64{ownerID}, func(locked map[int64]*entry) error {
		e, ok := locked[ownerID]
		if !ok || e.checking == nil {
			return ErrAccountNotFound
		}
		if !e.user.Active {
			return ErrInactiveAccount
		}
		next := *e.checking
		if err := apply(&next); err != nil {
			return err
		}
		next.LastTransaction = s.clock.Now()
		*e.checking = next
		out = next
		return nil
	})
	return out, err
}

// Len 回傳使用者數量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
