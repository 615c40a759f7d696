package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/storage"
)

type stubProber struct {
	meta  model.Metadata
	paths []string
}

func (p *stubProber) Extract(_ context.Context, path string) model.Metadata {
	p.paths = append(p.paths, path)
	return p.meta
}

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) RegisterUpload(ctx context.Context, reg model.Registration) (*model.AssetSummary, error) {
	args := m.Called(ctx, reg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AssetSummary), args.Error(1)
}

func newBlobs(t *testing.T) *storage.Local {
	t.Helper()
	b, err := storage.NewLocalFs(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	return b
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestIngest_StoresAndRegisters(t *testing.T) {
	blobs := newBlobs(t)
	sr := 48000
	prober := &stubProber{meta: model.Metadata{Format: "wav", SampleRate: &sr}}
	reg := &mockRegistrar{}
	var got model.Registration
	reg.On("RegisterUpload", mock.Anything, mock.AnythingOfType("model.Registration")).
		Run(func(args mock.Arguments) { got = args.Get(1).(model.Registration) }).
		Return(&model.AssetSummary{ID: "a1", Filename: "clip.WAV"}, nil).
		Once()
	ing := New(blobs, prober, reg, Limits{})

	local := writeTemp(t, "tmp-upload.wav", "RIFF-data")
	sum, err := ing.Ingest(context.Background(), "clip.WAV", local)
	require.NoError(t, err)
	assert.Equal(t, "clip.WAV", sum.Filename)
	reg.AssertExpectations(t)

	assert.Equal(t, "clip.WAV", got.Filename)
	assert.Equal(t, int64(9), got.FileSize)
	assert.Equal(t, "wav", got.Format)
	assert.Equal(t, &sr, got.SampleRate)
	assert.True(t, strings.HasPrefix(got.SourcePath, "uploads/"))
	assert.True(t, strings.HasSuffix(got.SourcePath, ".wav"))
	assert.Equal(t, []string{local}, prober.paths)

	ok, err := blobs.Exists(context.Background(), got.SourcePath)
	require.NoError(t, err)
	assert.True(t, ok)
}

// keyRecorder remembers which keys were written.
type keyRecorder struct {
	storage.Blob
	puts []string
}

func (k *keyRecorder) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	k.puts = append(k.puts, key)
	return k.Blob.Put(ctx, key, r)
}

func TestIngest_RemovesFileWhenRegistrationFails(t *testing.T) {
	blobs := &keyRecorder{Blob: newBlobs(t)}
	reg := &mockRegistrar{}
	reg.On("RegisterUpload", mock.Anything, mock.Anything).Return(nil, errors.New("database is down"))
	ing := New(blobs, &stubProber{}, reg, Limits{})

	_, err := ing.Ingest(context.Background(), "clip.wav", writeTemp(t, "x.wav", "RIFF"))
	require.EqualError(t, err, "database is down")

	require.Len(t, blobs.puts, 1)
	ok, err := blobs.Exists(context.Background(), blobs.puts[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIngest_Rejections(t *testing.T) {
	reg := &mockRegistrar{}
	ing := New(newBlobs(t), &stubProber{}, reg, Limits{MaxBytes: 4, AllowedExtensions: []string{".wav"}})
	t.Cleanup(func() { reg.AssertNotCalled(t, "RegisterUpload", mock.Anything, mock.Anything) })

	_, err := ing.Ingest(context.Background(), "notes.txt", writeTemp(t, "a.txt", "hi"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ing.Ingest(context.Background(), "clip.mp3", writeTemp(t, "a.mp3", "hi"))
	assert.True(t, apperr.Is(err, apperr.KindValidation), "mp3 not in allow-list")

	_, err = ing.Ingest(context.Background(), "clip.wav", writeTemp(t, "empty.wav", ""))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "empty")

	_, err = ing.Ingest(context.Background(), "clip.wav", writeTemp(t, "big.wav", "12345"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "upload limit")

	_, err = ing.Ingest(context.Background(), "clip.wav", filepath.Join(t.TempDir(), "missing.wav"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "clip.wav", SanitizeFilename(`C:\Users\me\clip.wav`))
	assert.Equal(t, "clip.wav", SanitizeFilename("../../clip.wav"))
	assert.Equal(t, "Caf\u00e9.wav", SanitizeFilename("Cafe\u0301.wav"))
	assert.Equal(t, "", SanitizeFilename("/"))
	assert.Equal(t, "", SanitizeFilename(".."))
}

func TestCheckName(t *testing.T) {
	ing := New(newBlobs(t), &stubProber{}, &mockRegistrar{}, Limits{})
	name, err := ing.CheckName("dir/Take 2.FLAC")
	require.NoError(t, err)
	assert.Equal(t, "Take 2.FLAC", name)

	_, err = ing.CheckName("")
	assert.Error(t, err)
	assert.Equal(t, int64(100<<20), ing.MaxBytes())
}
