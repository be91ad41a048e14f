// internal/ledger/snapshot.go

package ledger

import (
	"context"

	"ledger/internal/storage"
)

// Snapshot 匯出帳本狀態到可持久化的 storage.Snapshot。
// 取快照時依 ID 遞增持有所有擁有者的鎖，因此不會看到轉帳的中間狀態；
// 回傳後不再持有任何鎖，後續 I/O 不會阻塞轉帳。
func (s *Store) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	snap := storage.Snapshot{
		Meta: storage.Meta{Version: storage.FormatVersion},
	}
	err := s.lockAll(ctx, func(ids []int64, locked map[int64]*entry) error {
		snap.Meta.Timestamp = s.clock.Now()
		snap.NextID = s.ids.Last()
		snap.Users = make([]storage.UserRecord, 0, len(ids))
		snap.Checking = make([]storage.CheckingRecord, 0, len(ids))
		for _, id := range ids {
			e := locked[id]
			snap.Users = append(snap.Users, toUserRecord(e.user))
			if e.checking != nil {
				snap.Checking = append(snap.Checking, toCheckingRecord(*e.checking))
			}
		}
		return nil
	})
	if err != nil {
		return storage.Snapshot{}, err
	}
	return snap, nil
}

// FromSnapshot 由已載入的快照建立帳本：保留原本的 ID 與時間戳，
// 配號器從 max(NextID, 最大使用者 ID) 之後繼續發號。
func FromSnapshot(snap storage.Snapshot, opts ...Option) (*Store, error) {
	if err := storage.Validate(snap); err != nil {
		return nil, err
	}
	s := NewStore(opts...)
	var maxID int64
	for _, u := range snap.Users {
		s.entries[u.ID] = newEntry(fromUserRecord(u))
		maxID = max(maxID, u.ID)
	}
	for _, c := range snap.Checking {
		acct := fromCheckingRecord(c)
		s.entries[c.OwnerID].checking = &acct
	}
	s.ids.Reserve(max(maxID, snap.NextID))
	return s, nil
}

// Users 回傳依 ID 排序的使用者清單（不更新 last_accessed）。
func (s *Store) Users(ctx context.Context) ([]UserAccount, error) {
	var out []UserAccount
	err := s.lockAll(ctx, func(ids []int64, locked map[int64]*entry) error {
		out = make([]UserAccount, 0, len(ids))
		for _, id := range ids {
			out = append(out, locked[id].user)
		}
		return nil
	})
	return out, err
}

func toUserRecord(u UserAccount) storage.UserRecord {
	return storage.UserRecord{
		ID:             u.ID,
		Name:           u.Name,
		Active:         u.Active,
		DateOfBirth:    u.DateOfBirth,
		Address:        u.Address,
		SocialSecurity: u.SocialSecurity,
		CreatedAt:      u.CreatedAt,
		LastAccessed:   u.LastAccessed,
	}
}

func fromUserRecord(r storage.UserRecord) UserAccount {
	return UserAccount{
		ID:             r.ID,
		Name:           r.Name,
		Active:         r.Active,
		DateOfBirth:    r.DateOfBirth,
		Address:        r.Address,
		SocialSecurity: r.SocialSecurity,
		CreatedAt:      r.CreatedAt,
		LastAccessed:   r.LastAccessed,
	}
}

func toCheckingRecord(c CheckingAccount) storage.CheckingRecord {
	return storage.CheckingRecord{
		OwnerID:         c.OwnerID,
		AccountType:     c.AccountType,
		Balance:         c.Balance,
		CreatedAt:       c.CreatedAt,
		LastTransaction: c.LastTransaction,
	}
}

func fromCheckingRecord(r storage.CheckingRecord) CheckingAccount {
	return CheckingAccount{
		OwnerID:         r.OwnerID,
		AccountType:     r.AccountType,
		Balance:         r.Balance,
		CreatedAt:       r.CreatedAt,
		LastTransaction: r.LastTransaction,
	}
}
