package storage

// PrefixDB scopes a DB to one wallet namespace by prepending a fixed prefix
// to every key. The ledger snapshot lives under "ledger/"; further
// namespaces (headers, address state) can share the same store without key
// collisions.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB wraps inner so that all keys live under prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(key))
	out = append(out, p.prefix...)
	return append(out, key...)
}

// Get returns the value stored under key within the namespace.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores value under key within the namespace.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key within the namespace.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// ForEach scans the namespace. Callbacks see logical keys: the namespace
// prefix is stripped before delivery, so a ledger scanning "tx/" is unaware
// of the wrapping.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	full := p.prefixed(prefix)
	return p.inner.ForEach(full, func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key in the namespace, leaving the rest of the
// store untouched.
func (p *PrefixDB) DeleteAll() error {
	// Collect first; deleting mid-scan would mutate the iterator's view.
	var keys [][]byte
	err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.inner.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the wrapped store owns the underlying resources.
func (p *PrefixDB) Close() error {
	return nil
}
