package identity

import "strings"

type scopedStore struct {
	base   Store
	prefix string
}

// Scoped returns a Store that reads and writes base under its own
// namespace. Two scopes over the same base never see each other's keys.
func Scoped(base Store, scope string) Store {
	return &scopedStore{base: base, prefix: "dev_" + scope + "/"}
}

func (s *scopedStore) Put(key string, value []byte) error {
	return s.base.Put(s.prefix+key, value)
}

func (s *scopedStore) Get(key string) ([]byte, bool, error) {
	return s.base.Get(s.prefix + key)
}

// Keys lists the keys of this scope with the namespace stripped. It yields
// nothing when base cannot enumerate its keys.
func (s *scopedStore) Keys() ([]string, error) {
	lister, ok := s.base.(Lister)
	if !ok {
		return nil, nil
	}
	all, err := lister.Keys()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if rest, found := strings.CutPrefix(k, s.prefix); found {
			keys = append(keys, rest)
		}
	}
	return keys, nil
}
