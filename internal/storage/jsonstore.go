// internal/storage/jsonstore.go
//
// 以單一 JSON 檔案保存快照。
// 採「原子寫入」策略 (atomic write)：先在同一目錄寫入暫存檔並 fsync，
// 再以 rename() 取代正式檔案，最後 fsync 目錄。
// 寫入中途崩潰時，正式檔案仍是上一份完整快照；殘留的暫存檔在讀取時會被忽略。
package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultDataFile 為預設快照路徑。
const DefaultDataFile = "./data/db.json"

// FileBackend 將快照寫入 afero 檔案系統上的單一檔案。
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend 建立檔案後端；fsys 為 nil 時使用作業系統檔案系統。
func NewFileBackend(fsys afero.Fs, path string) *FileBackend {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultDataFile
	}
	return &FileBackend{fs: fsys, path: filepath.Clean(path)}
}

func (b *FileBackend) Name() string { return "file" }

// Path 回傳正式快照檔路徑。
func (b *FileBackend) Path() string { return b.path }

// Write 以 temp + fsync + rename 原子發佈 payload。
func (b *FileBackend) Write(ctx context.Context, payload []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := afero.TempFile(b.fs, dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = b.fs.Remove(tmp)
		}
	}()

	if _, err = f.Write(payload); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = b.fs.Rename(tmp, b.path); err != nil {
		return err
	}
	b.syncDir(dir)
	return nil
}

// Read 讀取正式快照檔；檔案不存在時回傳 ErrNoSnapshot。
func (b *FileBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(b.fs, b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return data, err
}

// syncDir 讓 rename 本身落盤；部分平台不支援對目錄 fsync，失敗時忽略。
func (b *FileBackend) syncDir(dir string) {
	d, err := b.fs.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
