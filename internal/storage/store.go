// Package storage keeps profile images, one directory (or key prefix) per username.
// The canonical file is always <username>.jpg; bytes are stored as uploaded, so PNG
// and GIF uploads keep their own encoding behind a .jpg name.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	JPGExtension = "jpg"

	KindFile = "file"
	KindS3   = "s3"
)

var (
	ErrNotAnImage      = errors.New("not an image file")
	ErrImageNotFound   = errors.New("image not found")
	ErrInvalidUsername = errors.New("invalid username for image storage")
)

// AllowedContentTypes are the MIME types accepted for profile images.
var AllowedContentTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Upload is an image handed to the service by the transport layer.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// ImageStore persists profile images.
type ImageStore interface {
	Save(ctx context.Context, username string, body io.Reader) error
	Open(ctx context.Context, username, fileName string) (io.ReadCloser, error)
	DeleteAll(ctx context.Context, username string) error
}

// FileName returns the canonical image name for username.
func FileName(username string) string {
	return username + "." + JPGExtension
}

// ValidateContentType fails with ErrNotAnImage unless ct is one of AllowedContentTypes.
func ValidateContentType(fileName, ct string) error {
	mediaType, _, _ := strings.Cut(ct, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, allowed := range AllowedContentTypes {
		if mediaType == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not an image file, please upload an image", ErrNotAnImage, fileName)
}

// DetectContentType sniffs the leading bytes of r and returns a reader that still yields all of them.
func DetectContentType(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

func validUsername(username string) error {
	if username == "" || username == "." || username == ".." || strings.ContainsAny(username, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return nil
}

type Config struct {
	Kind string
	Root string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// ConfigFromEnv reads IMAGE_STORE (file|s3), PROFILE_IMAGE_ROOT and S3_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Kind:        strings.ToLower(os.Getenv("IMAGE_STORE")),
		Root:        os.Getenv("PROFILE_IMAGE_ROOT"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
	}
	if cfg.Kind == "" {
		cfg.Kind = KindFile
	}
	if cfg.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.Root = filepath.Join(home, "supportportal", "user")
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	return cfg
}

// New builds the store selected by cfg.Kind.
func New(cfg Config) (ImageStore, error) {
	switch cfg.Kind {
	case KindFile:
		return NewFileStore(cfg.Root)
	case KindS3:
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("unknown image store %q", cfg.Kind)
	}
}
