// internal/storage/errors.go
//
// 持久化層的錯誤分類。呼叫端以 errors.Is 判斷種類。
package storage

import "errors"

var (
	// ErrPersistence 代表寫入或讀取後端時發生 I/O 失敗（磁碟滿、權限、連線中斷）。
	// 先前已持久化的快照保持不變，可由呼叫端決定是否重試。
	ErrPersistence = errors.New("persistence error")

	// ErrCorruptStore 代表快照存在但無法解碼或未通過結構驗證。
	// 持久化層不會以空資料取代，由呼叫端決定中止或重新開始。
	ErrCorruptStore = errors.New("corrupt store")

	// ErrNoSnapshot 由 Backend.Read 回傳，表示尚未寫入任何快照（冷啟動）。
	ErrNoSnapshot = errors.New("no snapshot")
)
