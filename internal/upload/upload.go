// Package upload turns a file on local disk into a registered asset: it
// probes the file, copies it into blob storage and records it, removing the
// stored copy again if registration fails.
package upload

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/soundguard-ai/soundguard/internal/apperr"
	"github.com/soundguard-ai/soundguard/internal/model"
	"github.com/soundguard-ai/soundguard/internal/storage"
)

// DefaultExtensions are accepted when no allow-list is configured.
var DefaultExtensions = []string{"wav", "mp3", "m4a", "flac", "ogg", "webm"}

// Registrar records a stored file as an asset.
type Registrar interface {
	RegisterUpload(ctx context.Context, reg model.Registration) (*model.AssetSummary, error)
}

// MetadataExtractor probes a local file. It never fails.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string) model.Metadata
}

// Limits bound what may be uploaded.
type Limits struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// Ingester registers local files as assets.
type Ingester struct {
	blobs     storage.Blob
	prober    MetadataExtractor
	registrar Registrar
	maxBytes  int64
	allowed   map[string]bool
}

// New creates an Ingester.
func New(blobs storage.Blob, prober MetadataExtractor, registrar Registrar, limits Limits) *Ingester {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = 100 << 20
	}
	exts := limits.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
	}
	return &Ingester{
		blobs:     blobs,
		prober:    prober,
		registrar: registrar,
		maxBytes:  limits.MaxBytes,
		allowed:   allowed,
	}
}

// MaxBytes returns the upload size cap.
func (i *Ingester) MaxBytes() int64 { return i.maxBytes }

// SanitizeFilename keeps the base name of a client-supplied path, NFC
// normalized so visually identical names compare equal.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = norm.NFC.String(strings.TrimSpace(path.Base(name)))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// CheckName sanitizes name and rejects extensions outside the allow-list.
func (i *Ingester) CheckName(name string) (string, error) {
	clean := SanitizeFilename(name)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(clean), "."))
	if clean == "" || !i.allowed[ext] {
		return "", apperr.Validation("upload", "unsupported file type %q", ext)
	}
	return clean, nil
}

// TooLarge is the error for files over the cap.
func (i *Ingester) TooLarge() error {
	return apperr.Validation("upload", "file exceeds the %d MB upload limit", i.maxBytes>>20)
}

// Ingest stores the file at localPath under a fresh key and registers it as
// filename. The caller keeps ownership of localPath.
func (i *Ingester) Ingest(ctx context.Context, filename, localPath string) (*model.AssetSummary, error) {
	filename, err := i.CheckName(filename)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, apperr.Validation("upload", "cannot read %s: %v", filepath.Base(localPath), err)
	}
	switch {
	case info.IsDir():
		return nil, apperr.Validation("upload", "%s is a directory", filepath.Base(localPath))
	case info.Size() == 0:
		return nil, apperr.Validation("upload", "uploaded file is empty")
	case info.Size() > i.maxBytes:
		return nil, i.TooLarge()
	}

	meta := i.prober.Extract(ctx, localPath)

	key := "uploads/" + uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	src, err := os.Open(localPath)
	if err != nil {
		return nil, eris.Wrapf(err, "upload: open %s", localPath)
	}
	_, err = i.blobs.Put(ctx, key, src)
	_ = src.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "upload: store %s", key)
	}

	reg := model.Registration{Filename: filename, SourcePath: key, FileSize: info.Size()}
	reg.Apply(meta)

	summary, err := i.registrar.RegisterUpload(ctx, reg)
	if err != nil {
		if derr := i.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			zap.L().Error("upload: remove orphaned file", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	return summary, nil
}
