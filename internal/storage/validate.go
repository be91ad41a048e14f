package storage

import "fmt"

// Validate 檢查快照的結構完整性，失敗時回傳包裝 ErrCorruptStore 的錯誤。
func Validate(s Snapshot) error {
	if s.Meta.Version != FormatVersion {
		return corrupt("unsupported version %d", s.Meta.Version)
	}

	users := make(map[int64]struct{}, len(s.Users))
	var maxID int64
	for i, u := range s.Users {
		if u.ID <= 0 {
			return corrupt("user_accounts[%d]: non-positive id %d", i, u.ID)
		}
		if _, dup := users[u.ID]; dup {
			return corrupt("user_accounts[%d]: duplicate id %d", i, u.ID)
		}
		if u.Name == "" {
			return corrupt("user_accounts[%d]: empty name", i)
		}
		users[u.ID] = struct{}{}
		maxID = max(maxID, u.ID)
	}
	if s.NextID < maxID {
		return corrupt("next_id %d below highest user id %d", s.NextID, maxID)
	}

	owners := make(map[int64]struct{}, len(s.Checking))
	for i, c := range s.Checking {
		if _, ok := users[c.OwnerID]; !ok {
			return corrupt("checking_accounts[%d]: unknown owner %d", i, c.OwnerID)
		}
		if _, dup := owners[c.OwnerID]; dup {
			return corrupt("checking_accounts[%d]: owner %d has more than one account", i, c.OwnerID)
		}
		if c.AccountType != AccountTypeChecking {
			return corrupt("checking_accounts[%d]: unknown account type %q", i, c.AccountType)
		}
		if c.Balance < 0 {
			return corrupt("checking_accounts[%d]: negative balance %d", i, c.Balance)
		}
		owners[c.OwnerID] = struct{}{}
	}
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptStore, fmt.Sprintf(format, args...))
}
