package credentials

import (
	"context"
	"encoding/json"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/minio"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// DefaultObjectName is the object holding the credential document.
const DefaultObjectName = "credentials.json"

// ObjectStore keeps the document as one JSON object in an S3-compatible
// bucket, for replicas that share no disk.
type ObjectStore struct {
	client *minio.Client
	name   string
}

var _ Store = (*ObjectStore)(nil)

// NewObjectStore returns a store writing object name, or
// [DefaultObjectName] if name is empty.
func NewObjectStore(client *minio.Client, name string) *ObjectStore {
	if name == "" {
		name = DefaultObjectName
	}
	return &ObjectStore{client: client, name: name}
}

// Load reads the object. A missing object is an empty document.
func (s *ObjectStore) Load(ctx context.Context) (map[string]Record, error) {
	data, found, err := s.client.GetDocument(ctx, s.name)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: load object")
	}
	docs := map[string]Record{}
	if !found || len(data) == 0 {
		return docs, nil
	}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: decode object")
	}
	return docs, nil
}

// Apply uploads the batch snapshot as the whole object.
func (s *ObjectStore) Apply(ctx context.Context, b Batch) error {
	data, err := json.Marshal(nonNil(b.Snapshot))
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: encode document")
	}
	if err := s.client.PutDocument(ctx, s.name, data); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: write object")
	}
	return nil
}
