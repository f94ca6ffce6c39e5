package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/sett/internal/errors"
	"github.com/PolarWolf314/sett/internal/progress"
)

var fixedNow = func() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 30, 0, time.UTC)
}

func writeLocal(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestUploadLocal(t *testing.T) {
	src := t.TempDir()
	remote := t.TempDir()
	a := writeLocal(t, src, "a.zip", bytes.Repeat([]byte("a"), 2500))
	b := writeLocal(t, src, "b.zip", nil)

	var updates []float64
	result, err := Upload(context.Background(), NewLocalTransport(remote), []string{a, b}, UploadOptions{
		Destination: "incoming",
		ChunkSize:   1000,
		Progress:    progress.Func(func(f float64) { updates = append(updates, f) }),
		Now:         fixedNow,
	})
	require.NoError(t, err)

	assert.Equal(t, "incoming/20240309T140530", result.Envelope)
	assert.Equal(t, []string{"incoming/20240309T140530/a.zip", "incoming/20240309T140530/b.zip"}, result.Files)
	assert.EqualValues(t, 2500, result.Bytes)

	envelope := filepath.Join(remote, "incoming", "20240309T140530")
	got, err := os.ReadFile(filepath.Join(envelope, "a.zip"))
	require.NoError(t, err)
	assert.Len(t, got, 2500)
	assert.FileExists(t, filepath.Join(envelope, "b.zip"))
	assert.NoFileExists(t, filepath.Join(envelope, "a.zip"+PartSuffix))

	info, err := os.Stat(filepath.Join(envelope, DoneMarker))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NotEmpty(t, updates)
	assert.Equal(t, 1.0, updates[len(updates)-1])
	assert.InDelta(t, 0.4, updates[0], 0.001, "first chunk of 1000 out of 2500 bytes")
}

func TestUploadRejectsMissingFile(t *testing.T) {
	_, err := Upload(context.Background(), NewLocalTransport(t.TempDir()), []string{"/does/not/exist"}, UploadOptions{})
	assert.ErrorIs(t, err, kerrors.ErrFileNotFound)

	_, err = Upload(context.Background(), NewLocalTransport(t.TempDir()), nil, UploadOptions{})
	assert.ErrorIs(t, err, kerrors.ErrNoFilesFound)
}

// faultyTransport fails writes once failAfter bytes have been written.
type faultyTransport struct {
	Transport
	failAfter int
	written   int
	truncate  bool
}

type faultyWriter struct {
	io.WriteCloser
	t *faultyTransport
}

func (f *faultyTransport) Create(p string) (io.WriteCloser, error) {
	w, err := f.Transport.Create(p)
	if err != nil {
		return nil, err
	}
	return &faultyWriter{WriteCloser: w, t: f}, nil
}

func (w *faultyWriter) Write(b []byte) (int, error) {
	if w.t.truncate {
		return len(b), nil
	}
	if w.t.written+len(b) > w.t.failAfter {
		return 0, errors.New("connection reset")
	}
	w.t.written += len(b)
	return w.WriteCloser.Write(b)
}

func TestUploadInterrupted(t *testing.T) {
	src := t.TempDir()
	remote := t.TempDir()
	a := writeLocal(t, src, "a.zip", bytes.Repeat([]byte("a"), 1000))
	b := writeLocal(t, src, "b.zip", bytes.Repeat([]byte("b"), 1000))

	tr := &faultyTransport{Transport: NewLocalTransport(remote), failAfter: 1500}
	_, err := Upload(context.Background(), tr, []string{a, b}, UploadOptions{ChunkSize: 100, Now: fixedNow})
	require.ErrorIs(t, err, kerrors.ErrTransfer)

	var te *kerrors.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "write", te.Op)

	envelope := filepath.Join(remote, "20240309T140530")
	assert.FileExists(t, filepath.Join(envelope, "a.zip"))
	assert.NoFileExists(t, filepath.Join(envelope, "b.zip"), "interrupted file keeps its part name")
	assert.FileExists(t, filepath.Join(envelope, "b.zip"+PartSuffix))
	assert.NoFileExists(t, filepath.Join(envelope, DoneMarker))
}

func TestUploadSizeMismatch(t *testing.T) {
	src := t.TempDir()
	remote := t.TempDir()
	a := writeLocal(t, src, "a.zip", []byte("payload"))

	tr := &faultyTransport{Transport: NewLocalTransport(remote), truncate: true}
	_, err := Upload(context.Background(), tr, []string{a}, UploadOptions{Now: fixedNow})
	require.ErrorIs(t, err, kerrors.ErrTransfer)
	assert.Contains(t, err.Error(), "remote size 0, local size 7")
	assert.NoFileExists(t, filepath.Join(remote, "20240309T140530", DoneMarker))
}

func TestUploadRejectsNameCollisions(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "x"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "y"), 0755))
	first := writeLocal(t, src, filepath.Join("x", "pkg.tar"), []byte("first"))
	second := writeLocal(t, src, filepath.Join("y", "pkg.tar"), []byte("second"))
	marker := writeLocal(t, src, DoneMarker, nil)

	tests := []struct {
		name  string
		files []string
	}{
		{"SameBaseName", []string{first, second}},
		{"CompletionMarker", []string{first, marker}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			remote := t.TempDir()
			_, err := Upload(context.Background(), NewLocalTransport(remote), tc.files, UploadOptions{
				Destination: "incoming",
				Now:         fixedNow,
			})
			assert.ErrorIs(t, err, kerrors.ErrValidation)
			assert.NoDirExists(t, filepath.Join(remote, "incoming"))
		})
	}
}

func TestUploadCancelled(t *testing.T) {
	src := t.TempDir()
	a := writeLocal(t, src, "a.zip", []byte("payload"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Upload(ctx, NewLocalTransport(t.TempDir()), []string{a}, UploadOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, kerrors.ErrTransfer)
}

func newInMemorySFTP(t *testing.T) *sftp.Client {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server := sftp.NewRequestServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite}, sftp.InMemHandler())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.Serve()
	}()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)

	// The client waits for its receive loop, which only ends once the
	// server side of the pipe is closed.
	t.Cleanup(func() {
		server.Close()
		client.Close()
		<-served
	})
	return client
}

func TestUploadSFTP(t *testing.T) {
	client := newInMemorySFTP(t)
	src := t.TempDir()
	a := writeLocal(t, src, "pkg.zip", bytes.Repeat([]byte("z"), 3000))

	result, err := Upload(context.Background(), NewSFTPTransportFromClient(client), []string{a}, UploadOptions{
		Destination: "/upload",
		ChunkSize:   1024,
		Now:         fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "/upload/20240309T140530", result.Envelope)

	info, err := client.Stat(path.Join(result.Envelope, "pkg.zip"))
	require.NoError(t, err)
	assert.EqualValues(t, 3000, info.Size())

	_, err = client.Stat(path.Join(result.Envelope, "pkg.zip"+PartSuffix))
	assert.Error(t, err)

	_, err = client.Stat(path.Join(result.Envelope, DoneMarker))
	assert.NoError(t, err)
}

func TestTwoFactor(t *testing.T) {
	ctx := context.Background()

	code, err := TwoFactor(ctx, func(context.Context) (string, error) { return " 123456\n", nil }, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	_, err = TwoFactor(ctx, func(context.Context) (string, error) { return "", nil }, time.Second)
	assert.ErrorIs(t, err, kerrors.ErrAuthentication)

	_, err = TwoFactor(ctx, func(context.Context) (string, error) { return "", errors.New("cancelled by user") }, time.Second)
	assert.ErrorIs(t, err, kerrors.ErrAuthentication)

	_, err = TwoFactor(ctx, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, 20*time.Millisecond)
	assert.ErrorIs(t, err, kerrors.ErrSuspensionTimeout)
}

func TestDialSFTPValidation(t *testing.T) {
	_, err := DialSFTP(context.Background(), SFTPConfig{})
	assert.ErrorIs(t, err, kerrors.ErrValidation)

	_, err = DialSFTP(context.Background(), SFTPConfig{Host: "localhost", Username: "u", InsecureIgnoreHostKey: true})
	assert.ErrorIs(t, err, kerrors.ErrValidation, "no authentication method")

	_, err = DialSFTP(context.Background(), SFTPConfig{
		Host:           "localhost",
		Username:       "u",
		Password:       "p",
		KnownHostsPath: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, kerrors.ErrValidation)
}
