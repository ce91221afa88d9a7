package store

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brewkit/lmctl/internal/domain"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), ".lmctl.yml"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	st := tempStore(t)
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	creds := &domain.Credentials{
		Email:             "user@example.com",
		AccessToken:       "access-123",
		RefreshToken:      "refresh-456",
		AccessTokenExpiry: expiry,
	}
	require.NoError(t, st.Save(creds))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "user@example.com", loaded.Email)
	require.Equal(t, "access-123", loaded.AccessToken)
	require.Equal(t, "refresh-456", loaded.RefreshToken)
	require.True(t, expiry.Equal(loaded.AccessTokenExpiry))
	require.Empty(t, loaded.Password)
}

func TestFileStoreMissingFile(t *testing.T) {
	t.Parallel()

	creds, err := tempStore(t).Load()
	require.NoError(t, err)
	require.Nil(t, creds)
}

func TestFileStoreCorruptFile(t *testing.T) {
	t.Parallel()

	st := tempStore(t)
	require.NoError(t, os.WriteFile(st.Path(), []byte("{not yaml: ["), 0o600))

	_, err := st.Load()
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStoreSaveReplaces(t *testing.T) {
	t.Parallel()

	st := tempStore(t)
	require.NoError(t, st.Save(&domain.Credentials{Email: "old@example.com", RefreshToken: "r1"}))
	require.NoError(t, st.Save(&domain.Credentials{Email: "new@example.com", RefreshToken: "r2"}))

	loaded, err := st.Load()
	require.NoError(t, err)
	require.Equal(t, "new@example.com", loaded.Email)
	require.Equal(t, "r2", loaded.RefreshToken)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(st.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStorePermissions(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}

	st := tempStore(t)
	require.NoError(t, st.Save(&domain.Credentials{Email: "user@example.com"}))

	info, err := os.Stat(st.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreClear(t *testing.T) {
	t.Parallel()

	st := tempStore(t)
	require.NoError(t, st.Save(&domain.Credentials{Email: "user@example.com"}))
	require.NoError(t, st.Clear())

	creds, err := st.Load()
	require.NoError(t, err)
	require.Nil(t, creds)

	// Clearing again is not an error.
	require.NoError(t, st.Clear())
}
