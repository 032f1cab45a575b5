package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFileNotFound indicates the requested storage path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrPathOutsideRoot indicates a download path that escapes the upload
	// root. Treated like a missing file on the wire.
	ErrPathOutsideRoot = errors.New("path escapes upload root")
)

// FileStore writes uploads under a per-user directory with generated names
// and serves downloads confined to the upload root.
type FileStore struct {
	root string
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Save writes an upload to <root>/<userID>/<timestamp>_<name> and returns
// the storage path relative to the process working directory, which is what
// gets persisted and later passed to DOWNLOAD_FILE. The timestamp prefix
// keeps identical upload names from colliding.
func (fs *FileStore) Save(userID int64, fileName string, data []byte) (string, error) {
	userDir := filepath.Join(fs.root, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	// Strip any client-supplied directory components.
	base := filepath.Base(filepath.Clean(fileName))
	if base == "." || base == string(filepath.Separator) {
		base = "upload"
	}

	unique := time.Now().Format("20060102_150405") + "_" + base
	path := filepath.Join(userDir, unique)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filepath.ToSlash(path), nil
}

// Read loads a stored file by the path previously returned from Save.
// Paths resolving outside the upload root are rejected.
func (fs *FileStore) Read(storagePath string) (name string, data []byte, err error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))

	rootAbs, err := filepath.Abs(fs.root)
	if err != nil {
		return "", nil, err
	}
	pathAbs, err := filepath.Abs(clean)
	if err != nil {
		return "", nil, err
	}
	if pathAbs != rootAbs && !strings.HasPrefix(pathAbs, rootAbs+string(filepath.Separator)) {
		return "", nil, ErrPathOutsideRoot
	}

	data, err = os.ReadFile(pathAbs)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, ErrFileNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read file: %w", err)
	}

	return filepath.Base(pathAbs), data, nil
}
