// Package inject records what a dependency-injection engine has done to one
// consumer: how many fields it filled and whether activation has fired.
//
// Metadata only grows. The counter never decreases and activation never
// reverts, so there is no reset.
package inject

import (
	"fmt"

	"github.com/zjrosen/svcreg/internal/log"
)

// Metadata is per-consumer injection bookkeeping. The zero value is ready to
// use. It is not synchronised; the owning engine serialises access.
type Metadata struct {
	fieldsInjected uint64
	activated      bool
}

// New returns fresh metadata with nothing injected and activation not fired.
func New() Metadata {
	return Metadata{}
}

// IncFieldsInjected records one more injected field.
func (m *Metadata) IncFieldsInjected() {
	m.fieldsInjected++
}

// FieldsInjected returns how many fields have been injected so far.
func (m Metadata) FieldsInjected() uint64 {
	return m.fieldsInjected
}

// SetActivated marks activation as fired. Calling it again has no effect.
func (m *Metadata) SetActivated() {
	if m.activated {
		return
	}
	m.activated = true
	log.Debug(log.CatInject, "Consumer activated", "fields", m.fieldsInjected)
}

// IsActivated reports whether activation has fired.
func (m Metadata) IsActivated() bool {
	return m.activated
}

func (m Metadata) String() string {
	return fmt.Sprintf("inject{fields=%d activated=%t}", m.fieldsInjected, m.activated)
}
