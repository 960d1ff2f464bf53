package registry

import "github.com/zjrosen/svcreg/internal/identity"

// Handle is the producer's token for a registration.
// Only code holding a Handle can update or withdraw the registration.
type Handle struct {
	id identity.RegistrationID
}

// ID returns the registration id.
func (h Handle) ID() identity.RegistrationID {
	return h.id
}

func (h Handle) String() string {
	return h.id.String()
}
