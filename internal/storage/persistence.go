// internal/storage/persistence.go
//
// Persistence 負責把帳本快照編碼成 JSON 並交給 Backend 原子發佈，
// 以及在啟動時讀回、解碼並驗證。
// 帳本本身不呼叫本層；何時保存（每次變更、定期 checkpoint、關機前）由呼叫端決定。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Backend 為實際的儲存媒介。
// Write 必須是原子發佈：失敗時先前的內容保持完整。
// Read 在尚無快照時回傳 ErrNoSnapshot。
type Backend interface {
	Name() string
	Write(ctx context.Context, payload []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// Source 為可產生一致性快照的物件（通常是 *ledger.Store）。
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Persistence 串接 Source 與 Backend。
type Persistence struct {
	backend Backend
	log     *zap.Logger

	// 序列化 Save，確保較舊的快照不會覆蓋較新的快照。
	mu sync.Mutex
}

// New 建立 Persistence；log 為 nil 時不輸出日誌。
func New(backend Backend, log *zap.Logger) *Persistence {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persistence{
		backend: backend,
		log:     log.With(zap.String("component", "persistence"), zap.String("backend", backend.Name())),
	}
}

// Save 取得 src 的快照並寫入後端。
// 取得快照時的鎖等待逾時直接回傳 src 的錯誤（通常為 ledger.ErrTimeout）；
// 後端失敗則包裝為 ErrPersistence。
func (p *Persistence) Save(ctx context.Context, src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := src.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, err := Encode(snap, p.backend.Name())
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", ErrPersistence, err)
	}
	if err := p.backend.Write(ctx, payload); err != nil {
		p.log.Error("snapshot write failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	p.log.Debug("snapshot saved",
		zap.Int("users", len(snap.Users)),
		zap.Int("checking_accounts", len(snap.Checking)),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Load 讀回最近一次的快照。
// 尚無快照時回傳空快照（冷啟動，不視為錯誤）。
func (p *Persistence) Load(ctx context.Context) (Snapshot, error) {
	payload, err := p.backend.Read(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		p.log.Info("no snapshot found; starting empty")
		return Empty(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	snap, err := Decode(payload)
	if err != nil {
		p.log.Error("snapshot rejected", zap.Error(err))
		return Snapshot{}, err
	}
	p.log.Info("snapshot loaded",
		zap.Int("users", len(snap.Users)),
		zap.Int("checking_accounts", len(snap.Checking)),
		zap.Time("saved_at", snap.Meta.Timestamp),
	)
	return snap, nil
}

// Encode 將快照編碼為縮排 JSON，並填入 Meta。
func Encode(snap Snapshot, backend string) ([]byte, error) {
	snap.Meta.Storage = backend
	snap.Meta.Version = FormatVersion
	if snap.Users == nil {
		snap.Users = []UserRecord{}
	}
	if snap.Checking == nil {
		snap.Checking = []CheckingRecord{}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode 解碼並驗證快照；任何失敗皆包裝 ErrCorruptStore。
func Decode(payload []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	if err := Validate(snap); err != nil {
		return Snapshot{}, err
	}
	if snap.Users == nil {
		snap.Users = []UserRecord{}
	}
	if snap.Checking == nil {
		snap.Checking = []CheckingRecord{}
	}
	return snap, nil
}
