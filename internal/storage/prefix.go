package storage

import "bytes"

// PrefixDB confines a DB to the keys under one prefix. The devnet keeps its
// whole chain under a single namespace so a reset can drop it in one step.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB scopes inner to prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: bytes.Clone(prefix)}
}

// Prefix returns the namespace prefix.
func (p *PrefixDB) Prefix() []byte { return bytes.Clone(p.prefix) }

func (p *PrefixDB) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	return append(append(out, p.prefix...), k...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }
func (p *PrefixDB) Put(key, value []byte) error    { return p.inner.Put(p.key(key), value) }
func (p *PrefixDB) Delete(key []byte) error        { return p.inner.Delete(p.key(key)) }
func (p *PrefixDB) Has(key []byte) (bool, error)   { return p.inner.Has(p.key(key)) }

// ForEach visits the namespace keys starting with prefix. Keys are passed
// without the namespace prefix.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(p.key(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// DeleteAll empties the namespace. Databases implementing Dropper drop it
// natively; others get a single batch of deletes.
func (p *PrefixDB) DeleteAll() error {
	if d, ok := p.inner.(Dropper); ok {
		return d.DropPrefix(p.prefix)
	}
	var keys [][]byte
	err := p.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return err
	}
	b := p.NewBatch()
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return b.Commit()
}

// Close does nothing; the inner DB is owned by whoever opened it.
func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch writing into the namespace. It is atomic when
// the inner DB is a Batcher.
func (p *PrefixDB) NewBatch() Batch {
	if b, ok := p.inner.(Batcher); ok {
		return &prefixBatch{db: p, inner: b.NewBatch()}
	}
	return &prefixBatch{db: p, inner: &sequentialBatch{db: p.inner}}
}

type prefixBatch struct {
	db    *PrefixDB
	inner Batch
}

func (pb *prefixBatch) Put(key, value []byte) error { return pb.inner.Put(pb.db.key(key), value) }
func (pb *prefixBatch) Delete(key []byte) error     { return pb.inner.Delete(pb.db.key(key)) }
func (pb *prefixBatch) Commit() error               { return pb.inner.Commit() }

// sequentialBatch replays buffered writes one by one on Commit.
type sequentialBatch struct {
	db   DB
	keys [][]byte
	vals [][]byte // nil entry = delete
}

func (sb *sequentialBatch) Put(key, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	sb.keys = append(sb.keys, bytes.Clone(key))
	sb.vals = append(sb.vals, v)
	return nil
}

func (sb *sequentialBatch) Delete(key []byte) error {
	sb.keys = append(sb.keys, bytes.Clone(key))
	sb.vals = append(sb.vals, nil)
	return nil
}

func (sb *sequentialBatch) Commit() error {
	for i, k := range sb.keys {
		var err error
		if sb.vals[i] == nil {
			err = sb.db.Delete(k)
		} else {
			err = sb.db.Put(k, sb.vals[i])
		}
		if err != nil {
			return err
		}
	}
	sb.keys, sb.vals = nil, nil
	return nil
}
