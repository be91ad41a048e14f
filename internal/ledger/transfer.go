// internal/ledger/transfer.go

package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Engine 在 Store 之上實作轉帳協定。
type Engine struct {
	store *Store
}

// NewEngine 建立綁定 store 的轉帳引擎。
func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Transfer 將 amount 從 from 的支票帳戶轉到 to 的支票帳戶，為全有或全無的原子操作：
// 1) 檢核金額與雙方不同 → 2) 依 ID 遞增取得雙方鎖 → 3) 檢查存在、啟用、餘額與溢位
// → 4) 同時扣款、入帳並寫入相同的 last_transaction。
// 任一步驟失敗皆不會改變任何帳戶狀態。同樣參數呼叫兩次會轉帳兩次。
func (e *Engine) Transfer(ctx context.Context, from, to, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	if from == to {
		return Receipt{}, ErrSelfTransfer
	}

	var receipt Receipt
	err := e.store.withLock(ctx, []int64{from, to}, func(locked map[int64]*entry) error {
		src, err := checkingOf(locked, SideFrom, from)
		if err != nil {
			return err
		}
		dst, err := checkingOf(locked, SideTo, to)
		if err != nil {
			return err
		}
		if !src.user.Active {
			return &SideError{Side: SideFrom, OwnerID: from, Err: ErrInactiveAccount}
		}
		if !dst.user.Active {
			return &SideError{Side: SideTo, OwnerID: to, Err: ErrInactiveAccount}
		}
		if src.checking.Balance < amount {
			return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, src.checking.Balance, amount)
		}
		if dst.checking.Balance > math.MaxInt64-amount {
			return &SideError{Side: SideTo, OwnerID: to, Err: ErrBalanceOverflow}
		}

		now := e.store.clock.Now()
		src.checking.Balance -= amount
		src.checking.LastTransaction = now
		dst.checking.Balance += amount
		dst.checking.LastTransaction = now

		receipt = Receipt{
			ID:          uuid.New(),
			FromOwnerID: from,
			ToOwnerID:   to,
			Amount:      amount,
			Timestamp:   now,
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func checkingOf(locked map[int64]*entry, side Side, ownerID int64) (*entry, error) {
	e, ok := locked[ownerID]
	if !ok || e.checking == nil {
		return nil, &SideError{Side: side, OwnerID: ownerID, Err: ErrAccountNotFound}
	}
	return e, nil
}
