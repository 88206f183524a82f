package credentials

import (
	"context"
	"encoding/json"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// DefaultRedisKey is the hash holding the credential document.
const DefaultRedisKey = "gateway:credentials"

// RedisStore keeps one hash whose fields are tokens and whose values are
// JSON records. Incremental batches touch only the changed fields.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store using key, or [DefaultRedisKey] if key is
// empty.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load decodes every field of the hash.
func (s *RedisStore) Load(ctx context.Context) (map[string]Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: load from redis")
	}
	docs := make(map[string]Record, len(fields))
	for token, raw := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalStorage, "credentials: decode redis field")
		}
		docs[token] = rec
	}
	return docs, nil
}

// Apply rewrites the hash on Replace and otherwise sets and deletes only
// the changed fields.
func (s *RedisStore) Apply(ctx context.Context, b Batch) error {
	if b.Replace {
		fields, err := encodeFields(b.Snapshot)
		if err != nil {
			return err
		}
		if err := s.client.ReplaceHash(ctx, s.key, fields); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: replace redis document")
		}
		return nil
	}

	if len(b.Upserts) > 0 {
		fields, err := encodeFields(b.Upserts)
		if err != nil {
			return err
		}
		values := make([]interface{}, 0, 2*len(fields))
		for token, raw := range fields {
			values = append(values, token, raw)
		}
		if _, err := s.client.HSet(ctx, s.key, values...); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: write redis fields")
		}
	}
	if len(b.Deletes) > 0 {
		if _, err := s.client.HDel(ctx, s.key, b.Deletes...); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: delete redis fields")
		}
	}
	return nil
}

func encodeFields(records map[string]Record) (map[string]string, error) {
	fields := make(map[string]string, len(records))
	for token, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalStorage, "credentials: encode record")
		}
		fields[token] = string(raw)
	}
	return fields, nil
}
