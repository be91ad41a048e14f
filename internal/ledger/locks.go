package ledger

import (
	"context"
	"fmt"
	"slices"
)

// entry 保存一位擁有者的使用者紀錄、支票帳戶與其專屬鎖。
// user 與 checking 只能在持有 sem 時讀寫。
type entry struct {
	sem      chan struct{}
	user     UserAccount
	checking *CheckingAccount
}

func newEntry(u UserAccount) *entry {
	return &entry{sem: make(chan struct{}, 1), user: u}
}

// lock 取得 entry 的獨占權；ctx 結束前取不到則回傳 ErrTimeout。
func (e *entry) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (e *entry) unlock() {
	<-e.sem
}

// lookup 於讀鎖下取得 entry；不存在時回傳 nil。
func (s *Store) lookup(id int64) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// withLock 以固定的全域順序（ID 遞增）取得多位擁有者的鎖後執行 fn。
// 傳入 fn 的 map 只包含存在的擁有者；是否存在由 fn 自行判斷。
// 任何一把鎖逾時都會釋放已取得的鎖並回傳 ErrTimeout，fn 不會被呼叫。
func (s *Store) withLock(ctx context.Context, ownerIDs []int64, fn func(locked map[int64]*entry) error) error {
	ids := slices.Clone(ownerIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locked := make(map[int64]*entry, len(ids))
	held := make([]*entry, 0, len(ids))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].unlock()
		}
	}()

	for _, id := range ids {
		e := s.lookup(id)
		if e == nil {
			continue
		}
		if err := e.lock(ctx); err != nil {
			return err
		}
		held = append(held, e)
		locked[id] = e
	}
	return fn(locked)
}

// lockAll 依 ID 遞增取得目前所有擁有者的鎖，用於一致性快照。
func (s *Store) lockAll(ctx context.Context, fn func(ids []int64, locked map[int64]*entry) error) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)

	return s.withLock(ctx, ids, func(locked map[int64]*entry) error {
		return fn(ids, locked)
	})
}
