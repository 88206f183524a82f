package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// FileStore persists the document as one JSON object keyed by token. Every
// batch rewrites the file through a temp file and rename, so readers never
// observe a partial document.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file is created on the
// first flush.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing or empty file is an empty document.
func (s *FileStore) Load(context.Context) (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalStorage, "credentials: read %s", s.path)
	}
	docs := map[string]Record{}
	if len(data) == 0 {
		return docs, nil
	}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalStorage, "credentials: decode %s", s.path)
	}
	return docs, nil
}

// Apply rewrites the whole file from the batch snapshot.
func (s *FileStore) Apply(_ context.Context, b Batch) error {
	data, err := json.MarshalIndent(nonNil(b.Snapshot), "", "  ")
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: encode document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: create temp file")
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: close temp file")
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: chmod temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalStorage, "credentials: replace %s", s.path)
	}
	return nil
}

func nonNil(m map[string]Record) map[string]Record {
	if m == nil {
		return map[string]Record{}
	}
	return m
}
