// internal/storage/model.go
//
// 定義「資料持久化層 (storage layer)」的快照格式。
// 快照由兩個依 ID 排序的序列組成（使用者、支票帳戶），外加中繼資訊 (Meta)
// 與配號器的水位 NextID，重新載入後配號器不會重複使用舊 ID。
package storage

import "time"

const (
	// FormatVersion 為目前的快照結構版本。
	FormatVersion = 1

	// AccountTypeChecking 為本帳本唯一支援的帳戶種類。
	AccountTypeChecking = "Checking"
)

// Meta 為所有持久化快照的中繼資料 (metadata)。
type Meta struct {
	Storage   string    `json:"storage"`        // 儲存後端，例如 "file"、"redis"、"postgres"
	Version   int       `json:"version"`        // 結構版本號
	Timestamp time.Time `json:"timestamp"`      // 快照建立時間
	Note      string    `json:"note,omitempty"` // 備註欄
}

// UserRecord 為使用者在儲存層的序列化格式。
type UserRecord struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	DateOfBirth    string    `json:"date_of_birth"`
	Address        string    `json:"address"`
	SocialSecurity uint64    `json:"social_security"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
}

// CheckingRecord 為支票帳戶在儲存層的序列化格式。
// Balance 以最小貨幣單位（分）儲存。
type CheckingRecord struct {
	OwnerID         int64     `json:"account_owner_id"`
	AccountType     string    `json:"account_type"`
	Balance         int64     `json:"balance"`
	CreatedAt       time.Time `json:"created_at"`
	LastTransaction time.Time `json:"last_transaction"`
}

// Snapshot 為帳本狀態的完整快照。
type Snapshot struct {
	Meta     Meta             `json:"_meta"`
	NextID   int64            `json:"next_id"`
	Users    []UserRecord     `json:"user_accounts"`
	Checking []CheckingRecord `json:"checking_accounts"`
}

// Empty 回傳冷啟動時使用的空快照。
func Empty() Snapshot {
	return Snapshot{
		Meta:     Meta{Version: FormatVersion},
		Users:    []UserRecord{},
		Checking: []CheckingRecord{},
	}
}
