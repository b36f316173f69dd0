package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec  string
		image string
		path  string
		ok    bool
	}{
		{spec: "card.img::/MUSIC/A.OGG", image: "card.img", path: "/MUSIC/A.OGG", ok: true},
		{spec: "card.img::A.OGG", image: "card.img", path: "/A.OGG", ok: true},
		{spec: "plain.ogg"},
		{spec: "::/A.OGG"},
		{spec: "card.img::"},
		{spec: "-"},
	}
	for _, tc := range tests {
		image, path, ok := ParseSpec(tc.spec)
		assert.Equal(t, tc.ok, ok, tc.spec)
		assert.Equal(t, tc.image, image, tc.spec)
		assert.Equal(t, tc.path, path, tc.spec)
	}
}

func TestOpenPlainFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o644))

	rc, err := Open(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), got)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing.ogg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenMapped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	full := filepath.Join(dir, "a.ogg")
	require.NoError(t, os.WriteFile(full, []byte("OggS mapped"), 0o644))
	empty := filepath.Join(dir, "empty.ogg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	rc, err := Open(full, WithMmap())
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "OggS mapped", string(got))
	assert.NoError(t, rc.Close())

	rc, err = Open(empty, WithMmap())
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, rc.Close())

	_, err = Open(filepath.Join(dir, "missing.ogg"), WithMmap())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

func TestOpenZstd(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("OggS compressed "), 64)
	path := filepath.Join(t.TempDir(), "a.ogg.zst")
	require.NoError(t, os.WriteFile(path, compress(t, content), 0o644))

	for name, opts := range map[string][]Option{
		"file": nil,
		"mmap": {WithMmap()},
	} {
		t.Run(name, func(t *testing.T) {
			rc, err := Open(path, opts...)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, content, got)
			assert.NoError(t, rc.Close())
		})
	}
}

func TestOpenZstdCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.ogg.zst")
	require.NoError(t, os.WriteFile(path, []byte("OggS is not a zstd frame"), 0o644))

	// The frame header may be checked at open or at first read.
	rc, err := Open(path)
	if err != nil {
		return
	}
	defer rc.Close()
	_, err = io.ReadAll(rc)
	assert.Error(t, err)
}

func TestOpenStdin(t *testing.T) {
	t.Parallel()

	rc, err := Open(Stdin, WithStdin(strings.NewReader("from stdin")))
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(got))
	assert.NoError(t, rc.Close())
}

func writeImage(t *testing.T, name string, content []byte) string {
	t.Helper()

	image := filepath.Join(t.TempDir(), "card.img")
	dsk, err := diskfs.Create(image, 50*fat32.MB, diskfs.SectorSizeDefault)
	require.NoError(t, err)

	fs, err := dsk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "PROBE",
	})
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/MUSIC"))

	f, err := fs.OpenFile("/MUSIC/"+name, os.O_CREATE|os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, dsk.Close())
	return image
}

func TestOpenImageFile(t *testing.T) {
	t.Parallel()

	content := []byte("OggS stored inside a FAT32 image")
	image := writeImage(t, "TRACK01.OGG", content)

	rc, err := Open(image + "::/MUSIC/TRACK01.OGG")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoError(t, rc.Close())
}

func TestOpenImageMissingFile(t *testing.T) {
	t.Parallel()

	image := writeImage(t, "TRACK01.OGG", []byte("x"))
	_, err := Open(image + "::/MUSIC/NOPE.OGG")
	assert.Error(t, err)
}

func TestOpenImageMissingImage(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "none.img") + "::/A.OGG")
	assert.Error(t, err)
}
