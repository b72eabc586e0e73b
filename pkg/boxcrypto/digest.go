package boxcrypto

import "hash/fnv"

// fnv64aSeeded returns an FNV-1a 64-bit hash primed with secret so
// the resulting digest depends on the keyed context and not only on
// the data written to it afterward. fnv.New64a has no keying support
// of its own, so the secret is folded in as the first write.
func fnv64aSeeded(secret []byte) fnvDigest {
	h := fnv.New64a()
	h.Write(secret)
	return fnvDigest{h}
}

type fnvDigest struct {
	h interface {
		Write([]byte) (int, error)
		Sum64() uint64
	}
}

func (d fnvDigest) Write(p []byte) {
	d.h.Write(p)
}

func (d fnvDigest) Sum64() uint64 {
	return d.h.Sum64()
}
