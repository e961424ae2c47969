package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// PebbleKV is a KV backed by a cockroachdb/pebble instance. Pebble is a
// single-process embedded LSM store; the Coordinator's single-writer
// discipline (spec §4.2/§5) means plain Get/Set/Delete give us everything
// the spec asks for without any transactional wrapping.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebbleKV opens (creating if absent) a pebble database rooted at dir.
func OpenPebbleKV(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "store: opening pebble db at %q", dir)
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "store: get %q", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if cerr := closer.Close(); cerr != nil {
		return nil, false, errors.Wrapf(cerr, "store: closing get handle for %q", key)
	}
	return out, true, nil
}

func (p *PebbleKV) Put(_ context.Context, key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return errors.Wrapf(err, "store: put %q", key)
	}
	return nil
}

func (p *PebbleKV) Delete(_ context.Context, key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return errors.Wrapf(err, "store: delete %q", key)
	}
	return nil
}

// prefixUpperBound returns the smallest byte slice strictly greater than
// every key sharing the given prefix, for use as a pebble iterator's
// UpperBound.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	// prefix was all 0xFF bytes; no finite upper bound needed.
	return nil
}

func (p *PebbleKV) ScanPrefix(_ context.Context, prefix, cursor string, limit int) ([]KVItem, string, error) {
	lower := []byte(prefix)
	if cursor != "" {
		lower = []byte(cursor)
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, "", errors.Wrapf(err, "store: scan prefix %q", prefix)
	}
	defer iter.Close()

	var items []KVItem
	var next string
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(items) == limit {
			next = string(append([]byte(nil), iter.Key()...))
			break
		}
		items = append(items, KVItem{
			Key:   string(append([]byte(nil), iter.Key()...)),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, "", errors.Wrapf(err, "store: iterating prefix %q", prefix)
	}
	return items, next, nil
}

func (p *PebbleKV) Close() error {
	if err := p.db.Close(); err != nil {
		return errors.Wrap(err, "store: closing pebble db")
	}
	return nil
}
