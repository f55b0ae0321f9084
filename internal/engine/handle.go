// Copyright 2025 Joseph Cumines

package engine

// Handle is an opaque, hashable reference to an OS-level accessibility or
// window object. Equality is defined by the platform, never by Go's pointer
// or struct equality: two Handle values may wrap different Go-level
// representations of the same underlying OS object, or the same Go value
// may no longer refer to a live object at all.
type Handle interface {
	// Equal reports whether h and other refer to the same underlying OS
	// object, per the platform's own identity predicate.
	Equal(other Handle) bool
	// Zero reports whether the handle carries no underlying reference.
	Zero() bool
}

// token is a trivial Handle implementation for platforms (and tests) that
// identify accessibility objects by an opaque numeric token rather than a
// CoreFoundation reference. It satisfies the Handle contract without
// depending on cgo.
type token struct {
	id    uint64
	valid bool
}

// NewToken returns a Handle backed by an opaque numeric id. Two tokens are
// Equal iff they carry the same id and were both constructed as non-zero.
func NewToken(id uint64) Handle {
	return token{id: id, valid: true}
}

func (t token) Equal(other Handle) bool {
	o, ok := other.(token)
	return ok && o.valid && t.valid && o.id == t.id
}

func (t token) Zero() bool {
	return !t.valid
}

// ZeroHandle is the canonical absent handle.
var ZeroHandle Handle = token{}
