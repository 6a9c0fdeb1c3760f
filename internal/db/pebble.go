package db

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleKV stores each key as a pebble record, synced on every write.
type PebbleKV struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(_ context.Context, key string) (string, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer closer.Close()
	// v is only valid until closer.Close
	return string(v), true, nil
}

func (p *PebbleKV) Set(_ context.Context, key, value string) error {
	return p.db.Set([]byte(key), []byte(value), pebble.Sync)
}

func (p *PebbleKV) Remove(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *PebbleKV) Close() error {
	return p.db.Close()
}
