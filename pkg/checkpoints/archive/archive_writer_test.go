package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingBuffer struct {
	bytes.Buffer
	readCount  int64
	writeCount int64
}

func (t *countingBuffer) Read(b []byte) (n int, err error) {
	count, err := t.Buffer.Read(b)
	t.readCount += int64(count)
	return count, err
}

func (t *countingBuffer) Write(p []byte) (n int, err error) {
	count, err := t.Buffer.Write(p)
	t.writeCount += int64(count)
	return count, err
}

func TestSimpleTar(t *testing.T) {
	var buf countingBuffer
	aw, err := NewArchiveWriter(&buf, ArchiveTar)
	require.NoError(t, err)
	require.NoError(t, aw.WriteHeader("Epoch-1-model", 3))
	size, err := aw.Write([]byte("bar"))
	require.NoError(t, err)
	require.Equal(t, 3, size)
	require.NoError(t, aw.Close())

	tr := tar.NewReader(&buf)
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, "Epoch-1-model", hdr.Name)
	require.Equal(t, int64(3), hdr.Size)
	require.Equal(t, byte(tar.TypeReg), hdr.Typeflag)
	result, err := io.ReadAll(tr)
	require.NoError(t, err)
	require.Equal(t, "bar", string(result))
	_, err = tr.Next()
	require.Equal(t, io.EOF, err)
	require.Equal(t, buf.writeCount, buf.readCount)
}

func TestTarDryRunMatchesOutput(t *testing.T) {
	var buf countingBuffer
	aw, err := NewArchiveWriter(&buf, ArchiveTar)
	require.NoError(t, err)
	require.True(t, aw.DryRunEnabled())

	entries := []FileEntry{
		{Path: "record", Size: 17},
		{Path: strings.Repeat("a", 150), Size: 1000},
		{Path: "best_val_loss_model", Size: 0},
	}
	contentLength, err := DryRunLength(aw, entries)
	require.NoError(t, err)

	for _, e := range entries {
		payload := bytes.Repeat([]byte("x"), int(e.Size))
		require.NoError(t, WriteEntry(aw, e.Path, e.Size, bytes.NewReader(payload), make([]byte, 64)))
	}
	require.NoError(t, aw.Close())
	require.Equal(t, buf.writeCount, contentLength)
}

func TestTgzAndZipRoundTrip(t *testing.T) {
	var tgz bytes.Buffer
	aw, err := NewArchiveWriter(&tgz, ArchiveTgz)
	require.NoError(t, err)
	require.False(t, aw.DryRunEnabled())
	require.NoError(t, WriteEntry(aw, "eval", 5, strings.NewReader("hello"), make([]byte, 2)))
	require.NoError(t, aw.Close())

	gz, err := gzip.NewReader(&tgz)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	require.Equal(t, "eval", hdr.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	var zbuf bytes.Buffer
	aw, err = NewArchiveWriter(&zbuf, ArchiveZip)
	require.NoError(t, err)
	require.NoError(t, WriteEntry(aw, "record", 2, strings.NewReader("{}"), make([]byte, 8)))
	require.NoError(t, aw.Close())

	zr, err := zip.NewReader(bytes.NewReader(zbuf.Bytes()), int64(zbuf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, "record", zr.File[0].Name)
}

func TestWriteEntryShortReader(t *testing.T) {
	var buf bytes.Buffer
	aw, err := NewArchiveWriter(&buf, ArchiveZip)
	require.NoError(t, err)
	err = WriteEntry(aw, "short", 10, strings.NewReader("abc"), make([]byte, 8))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDelayedWriterHoldsBackSmallOutput(t *testing.T) {
	var out bytes.Buffer
	aw, err := NewDelayedArchiveWriter(&out, ArchiveTar)
	require.NoError(t, err)
	require.NoError(t, aw.WriteHeader("a", 1))
	_, err = aw.Write([]byte("z"))
	require.NoError(t, err)
	require.Zero(t, out.Len())
	require.NoError(t, aw.Close())
	require.NotZero(t, out.Len())
}

func TestParseArchiveType(t *testing.T) {
	require.Equal(t, ArchiveTgz, ParseArchiveType("tgz"))
	require.Equal(t, ArchiveTgz, ParseArchiveType("tar.gz"))
	require.Equal(t, ArchiveZip, ParseArchiveType("zip"))
	require.Equal(t, ArchiveUnknown, ParseArchiveType("rar"))
	require.Equal(t, "application/gzip", ArchiveTgz.ContentType())
}
