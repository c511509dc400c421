package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
)

func uploadGame(t *testing.T, f *fixture, configJSON string) string {
	t.Helper()
	ctx := context.Background()

	data, sum := packageZip(t, configJSON)
	id, err := f.m.InitUpload("dev1", "Snake", "", int64(len(data)))
	require.NoError(t, err)
	sendChunks(t, f.m, id, data)

	gameID, err := f.m.FinishUpload(ctx, id, sum)
	require.NoError(t, err)
	return gameID
}

func TestPrepareDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gameID := uploadGame(t, f, `{"game_name":"Snake","game_version":"1.0.0"}`)

	d, err := f.m.PrepareDownload(ctx, gameID)
	require.NoError(t, err)
	assert.NotEmpty(t, d.TransferID)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Positive(t, d.FileSize)

	src, err := d.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(src)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	assert.Equal(t, d.FileSize, int64(len(data)))
	sum := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), d.Checksum)

	// The zip is a faithful package: unpacking it round-trips config.json.
	zipPath := filepath.Join(t.TempDir(), "dl.zip")
	require.NoError(t, os.WriteFile(zipPath, data, 0o644))
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, gamepkg.Unpack(zipPath, dest))
	require.NoError(t, gamepkg.ValidateTree(dest))

	want, err := os.ReadFile(filepath.Join(f.layout.VersionDir(gameID, "1.0.0"), "config.json"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dest, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, d.Close())
	assert.Zero(t, tmpEntries(t, f.tmpDir))
}

func TestPrepareDownloadErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.PrepareDownload(ctx, "42")
	assert.ErrorIs(t, err, catalog.ErrGameNotFound)

	// Catalog entry without files on disk.
	gameID := uploadGame(t, f, `{"game_name":"Snake","game_version":"1.0.0"}`)
	require.NoError(t, os.RemoveAll(f.layout.GameDir(gameID)))

	_, err = f.m.PrepareDownload(ctx, gameID)
	assert.ErrorIs(t, err, gamepkg.ErrVersionNotStored)
}

func TestDownloadServesLatestVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gameID := uploadGame(t, f, `{"game_name":"Snake","game_version":"1.0.0"}`)

	v2, sum2 := packageZip(t, `{"game_name":"Snake","game_version":"2.0.0"}`)
	id, err := f.m.InitUpdate(ctx, "dev1", gameID, "2.0.0", int64(len(v2)))
	require.NoError(t, err)
	sendChunks(t, f.m, id, v2)
	require.NoError(t, f.m.FinishUpdate(ctx, id, sum2))

	d, err := f.m.PrepareDownload(ctx, gameID)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, "2.0.0", d.Version)
}
