// internal/storage/jsonstore_test.go
//
// 測試目標：驗證 JSON 檔案快照的 round-trip 與原子寫入行為。
// 使用 afero.MemMapFs 模擬檔案系統，並以包裝過的 Fs 注入寫入失敗。
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

// staticSource 回傳固定的快照。
type staticSource struct {
	snap Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (Snapshot, error) { return s.snap, s.err }

func sampleSnapshot() Snapshot {
	return Snapshot{
		Meta:   Meta{Version: FormatVersion, Timestamp: ts},
		NextID: 3,
		Users: []UserRecord{
			{ID: 1, Name: "John", Active: true, DateOfBirth: "01/01/1990", Address: "123 Main St", SocialSecurity: 123456789, CreatedAt: ts, LastAccessed: ts.Add(time.Minute)},
			{ID: 2, Name: "Jane", Active: false, DateOfBirth: "02/02/1992", Address: "9 Elm St", SocialSecurity: 987654321, CreatedAt: ts, LastAccessed: ts},
		},
		Checking: []CheckingRecord{
			{OwnerID: 1, AccountType: AccountTypeChecking, Balance: 700, CreatedAt: ts, LastTransaction: ts.Add(time.Second)},
			{OwnerID: 2, AccountType: AccountTypeChecking, Balance: 300, CreatedAt: ts, LastTransaction: ts.Add(time.Second)},
		},
	}
}

// failingRenameFs 讓 Rename 永遠失敗，模擬發佈前崩潰。
type failingRenameFs struct {
	afero.Fs
}

func (f failingRenameFs) Rename(string, string) error {
	return errors.New("rename: simulated crash")
}

func TestJSONSnapshotRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p := New(NewFileBackend(fsys, "/data/db.json"), nil)
	ctx := context.Background()

	orig := sampleSnapshot()
	require.NoError(t, p.Save(ctx, staticSource{snap: orig}))

	exists, err := afero.Exists(fsys, "/data/db.json")
	require.NoError(t, err)
	require.True(t, exists, "snapshot not written")

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, orig.NextID, loaded.NextID)
	assert.Equal(t, orig.Users, loaded.Users)
	assert.Equal(t, orig.Checking, loaded.Checking)
	assert.Equal(t, "file", loaded.Meta.Storage)
	assert.Equal(t, FormatVersion, loaded.Meta.Version)
}

func TestJSONSnapshotOnRealDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.json")
	p := New(NewFileBackend(nil, path), nil)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, staticSource{snap: sampleSnapshot()}))
	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot().Checking, loaded.Checking)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "db.json", entries[0].Name())
}

func TestLoadColdStart(t *testing.T) {
	p := New(NewFileBackend(afero.NewMemMapFs(), "/data/db.json"), nil)

	snap, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
	assert.Empty(t, snap.Checking)
	assert.Zero(t, snap.NextID)
}

func TestSaveFailureKeepsPreviousSnapshot(t *testing.T) {
	base := afero.NewMemMapFs()
	ctx := context.Background()
	require.NoError(t, New(NewFileBackend(base, "/data/db.json"), nil).Save(ctx, staticSource{snap: sampleSnapshot()}))

	next := sampleSnapshot()
	next.Checking[0].Balance = 1

	t.Run("read only filesystem", func(t *testing.T) {
		p := New(NewFileBackend(afero.NewReadOnlyFs(base), "/data/db.json"), nil)
		err := p.Save(ctx, staticSource{snap: next})
		require.ErrorIs(t, err, ErrPersistence)
	})

	t.Run("crash before rename", func(t *testing.T) {
		p := New(NewFileBackend(failingRenameFs{Fs: base}, "/data/db.json"), nil)
		err := p.Save(ctx, staticSource{snap: next})
		require.ErrorIs(t, err, ErrPersistence)

		matches, err := afero.Glob(base, "/data/*.tmp")
		require.NoError(t, err)
		assert.Empty(t, matches, "temp file must be removed after a failed publish")
	})

	loaded, err := New(NewFileBackend(base, "/data/db.json"), nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(700), loaded.Checking[0].Balance)
}

func TestLoadIgnoresLeftoverTempFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	ctx := context.Background()
	p := New(NewFileBackend(fsys, "/data/db.json"), nil)
	require.NoError(t, p.Save(ctx, staticSource{snap: sampleSnapshot()}))

	// 寫到一半崩潰留下的暫存檔
	require.NoError(t, afero.WriteFile(fsys, "/data/db.json.123.tmp", []byte(`{"_meta":{"vers`), 0o644))

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Users, 2)
}

func TestLoadCorruptFile(t *testing.T) {
	cases := map[string]string{
		"truncated json":  `{"_meta":{"version":1},"next_id":`,
		"empty file":      ``,
		"unknown version": `{"_meta":{"version":9},"next_id":0,"user_accounts":[],"checking_accounts":[]}`,
		"orphan account":  `{"_meta":{"version":1},"next_id":1,"user_accounts":[],"checking_accounts":[{"account_owner_id":1,"account_type":"Checking","balance":0}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fsys, "/data/db.json", []byte(body), 0o644))

			_, err := New(NewFileBackend(fsys, "/data/db.json"), nil).Load(context.Background())
			assert.ErrorIs(t, err, ErrCorruptStore)
		})
	}
}

func TestSavePropagatesSourceError(t *testing.T) {
	boom := errors.New("lock wait expired")
	p := New(NewFileBackend(afero.NewMemMapFs(), "/data/db.json"), nil)

	err := p.Save(context.Background(), staticSource{err: boom})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPersistence)
}
