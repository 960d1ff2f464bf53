package registry

import (
	"fmt"
	"reflect"

	"github.com/zjrosen/svcreg/internal/identity"
	"github.com/zjrosen/svcreg/internal/properties"
)

type refState uint8

const (
	unbound refState = iota
	bound
)

// Reference is a consumer's typed view of a registration.
//
// The zero value is unbound and resolves to nothing. MakeReference is the
// only way to obtain a bound reference, and a bound reference never becomes
// unbound again. T exists only at compile time.
type Reference[T any] struct {
	state refState
	id    identity.RegistrationID
	props properties.Bag
}

// MakeReference binds a reference to the registration behind h, keeping a
// snapshot of props.
func MakeReference[T any](h Handle, props properties.Bag) Reference[T] {
	return Reference[T]{state: bound, id: h.id, props: props}
}

// IsBound reports whether r names a registration.
func (r Reference[T]) IsBound() bool {
	return r.state == bound
}

// ID returns the registration id, or false when r is unbound.
func (r Reference[T]) ID() (identity.RegistrationID, bool) {
	if r.state != bound {
		return identity.RegistrationID{}, false
	}
	return r.id, true
}

// Properties returns the snapshot taken by MakeReference, or an empty bag
// and false when r is unbound.
func (r Reference[T]) Properties() (properties.Bag, bool) {
	if r.state != bound {
		return properties.Empty(), false
	}
	return r.props, true
}

// Equal reports whether r and other name the same registration.
// Properties do not take part.
func (r Reference[T]) Equal(other Reference[T]) bool {
	return r.state == other.state && r.id == other.id
}

// Compare orders unbound references first, then by id.
func (r Reference[T]) Compare(other Reference[T]) int {
	if r.state != other.state {
		if r.state == unbound {
			return -1
		}
		return 1
	}
	return r.id.Compare(other.id)
}

func (r Reference[T]) String() string {
	typ := reflect.TypeFor[T]()
	if r.state != bound {
		return fmt.Sprintf("Reference[%s](unbound)", typ)
	}
	return fmt.Sprintf("Reference[%s](%s %s)", typ, r.id, r.props)
}
