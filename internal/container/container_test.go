package container

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/progress"
)

func readAll(t *testing.T, r *Reader) map[string][]byte {
	t.Helper()
	got := make(map[string][]byte)
	for {
		name, body, err := r.Next()
		if err == io.EOF {
			return got
		}
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		got[name] = data
	}
}

func TestWriteRead_AllAlgorithms(t *testing.T) {
	dir := t.TempDir()
	big := bytes.Repeat([]byte("sett "), 10_000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), big, 0644))

	entries := []Entry{
		Bytes("checksum-manifest", []byte("abc\n")),
		File("content/big.bin", filepath.Join(dir, "big.bin")),
		Bytes("content/empty", nil),
	}

	tests := []struct {
		algorithm string
		level     int
	}{
		{None, 0},
		{Gzip, 6},
		{Zstd, 3},
		{"", 9},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, entries, WriteOptions{Level: tt.level, Algorithm: tt.algorithm}))

			r, err := NewReader(&buf, Algorithm(tt.algorithm, tt.level))
			require.NoError(t, err)
			defer r.Close()

			got := readAll(t, r)
			assert.Equal(t, []byte("abc\n"), got["checksum-manifest"])
			assert.Equal(t, big, got["content/big.bin"])
			assert.Empty(t, got["content/empty"])
		})
	}
}

func TestWrite_PreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	names := []string{"z", "a", "m"}
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, Bytes(n, []byte(n)))
	}
	require.NoError(t, Write(&buf, entries, WriteOptions{}))

	r, err := NewReader(&buf, None)
	require.NoError(t, err)

	var order []string
	for {
		name, _, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		order = append(order, name)
	}
	assert.Equal(t, names, order)
}

func TestWrite_Rejects(t *testing.T) {
	err := Write(io.Discard, []Entry{Bytes("a", nil), Bytes("a", nil)}, WriteOptions{})
	assert.ErrorIs(t, err, kerrors.ErrValidation)

	err = Write(io.Discard, []Entry{Bytes("a", nil)}, WriteOptions{Level: 10, Algorithm: Gzip})
	assert.ErrorIs(t, err, kerrors.ErrValidation)

	err = Write(io.Discard, []Entry{Bytes("a", nil)}, WriteOptions{Level: 3, Algorithm: "brotli"})
	assert.ErrorIs(t, err, kerrors.ErrValidation)
}

func TestWrite_ReportsProgress(t *testing.T) {
	var last float64
	opts := WriteOptions{
		TotalBytes: 2000,
		Progress:   progress.Func(func(f float64) { last = f }),
	}
	entries := []Entry{Bytes("a", make([]byte, 1000)), Bytes("b", make([]byte, 1000))}

	require.NoError(t, Write(io.Discard, entries, opts))
	assert.InDelta(t, 1.0, last, 1e-9)
}

func TestExtractNamed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{
		Bytes(MetadataName, []byte(`{"x":1}`)),
		Bytes(SignatureName, []byte("sig")),
		Bytes(PayloadName, []byte("ciphertext")),
	}, WriteOptions{}))

	got, err := ExtractNamed(bytes.NewReader(buf.Bytes()), MetadataName, SignatureName)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("sig"), got[SignatureName])

	_, err = ExtractNamed(bytes.NewReader(buf.Bytes()), MetadataName, "missing")
	assert.ErrorIs(t, err, kerrors.ErrFormat)
}

// countingReader records how many bytes were consumed.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestExtractNamed_StopsEarly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{
		Bytes(MetadataName, []byte("{}")),
		Bytes(PayloadName, make([]byte, 1<<20)),
	}, WriteOptions{}))

	cr := &countingReader{r: bytes.NewReader(buf.Bytes())}
	_, err := ExtractNamed(cr, MetadataName)
	require.NoError(t, err)
	assert.Less(t, cr.n, 1<<20, "should not read through the payload")
}

func TestOpenNamed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{
		Bytes(MetadataName, []byte("{}")),
		Bytes(PayloadName, []byte("payload bytes")),
	}, WriteOptions{}))

	body, err := OpenNamed(&buf, PayloadName)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(data))

	_, err = OpenNamed(bytes.NewReader(nil), PayloadName)
	assert.ErrorIs(t, err, kerrors.ErrFormat)
}

func TestUnpackAll(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{
		Bytes(ManifestName, []byte("manifest")),
		Bytes("content/a.txt", []byte("A")),
		Bytes("content/dir/b.txt", []byte("B")),
	}, WriteOptions{Level: 6, Algorithm: Gzip}))

	r, err := NewReader(&buf, Gzip)
	require.NoError(t, err)

	dest := t.TempDir()
	var manifest []byte
	written, err := UnpackAll(r, dest,
		WithStripPrefix(ContentPrefix),
		WithControlHandler(func(name string, body io.Reader) error {
			manifest, err = io.ReadAll(body)
			return err
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "dir/b.txt"}, written)
	assert.Equal(t, []byte("manifest"), manifest)

	data, err := os.ReadFile(filepath.Join(dest, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))
	assert.NoFileExists(t, filepath.Join(dest, ManifestName))
}

func rawTar(t *testing.T, headers ...*tar.Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, h := range headers {
		require.NoError(t, tw.WriteHeader(h))
		if h.Size > 0 {
			_, err := tw.Write(make([]byte, h.Size))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestUnpackAll_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name   string
		header *tar.Header
	}{
		{"parent escape", &tar.Header{Name: "../../etc/passwd", Typeflag: tar.TypeReg, Size: 4, Mode: 0644}},
		{"escape after prefix", &tar.Header{Name: "content/../../evil", Typeflag: tar.TypeReg, Size: 4, Mode: 0644}},
		{"absolute", &tar.Header{Name: "/etc/passwd", Typeflag: tar.TypeReg, Size: 4, Mode: 0644}},
		{"symlink", &tar.Header{Name: "content/link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")
			require.NoError(t, os.Mkdir(dest, 0755))

			r, err := NewReader(rawTar(t, tt.header), None)
			require.NoError(t, err)

			_, err = UnpackAll(r, dest, WithStripPrefix(ContentPrefix))
			assert.ErrorIs(t, err, kerrors.ErrSecurity)

			siblings, err := os.ReadDir(parent)
			require.NoError(t, err)
			assert.Len(t, siblings, 1, "nothing may be written next to the destination")
			inside, err := os.ReadDir(dest)
			require.NoError(t, err)
			assert.Empty(t, inside)
		})
	}
}

func TestUnpackAll_RequiresPrefix(t *testing.T) {
	r, err := NewReader(rawTar(t, &tar.Header{Name: "stray.txt", Typeflag: tar.TypeReg, Size: 1, Mode: 0644}), None)
	require.NoError(t, err)

	_, err = UnpackAll(r, t.TempDir(), WithStripPrefix(ContentPrefix))
	assert.ErrorIs(t, err, kerrors.ErrFormat)
}

func TestDecompress(t *testing.T) {
	var compressed bytes.Buffer
	require.NoError(t, Write(&compressed, []Entry{Bytes("content/x", []byte("x"))}, WriteOptions{Level: 4, Algorithm: Zstd}))

	var plain bytes.Buffer
	_, err := Decompress(&plain, &compressed, Zstd)
	require.NoError(t, err)

	r, err := NewReader(&plain, None)
	require.NoError(t, err)
	got := readAll(t, r)
	assert.Equal(t, []byte("x"), got["content/x"])
}

func TestAlgorithm(t *testing.T) {
	assert.Equal(t, None, Algorithm(Gzip, 0))
	assert.Equal(t, Gzip, Algorithm("", 5))
	assert.Equal(t, Zstd, Algorithm(Zstd, 5))
	assert.True(t, ValidAlgorithm("none"))
	assert.False(t, ValidAlgorithm("lz4"))
}
