package tools

import (
	"slices"
)

// Capability names a precondition a tool may require before it is invoked.
// Its value doubles as the credential header prefix sent to the toolbox.
type Capability string

// CapabilityBankLogin is held by sessions whose user signed in.
const CapabilityBankLogin Capability = "bank_login"

// CapabilitySet is an immutable set of capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int {
	return len(s)
}

// Sorted returns the capabilities in lexical order.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// TokenGetter returns the current token for a capability, if any.
type TokenGetter func() (string, bool)

// StaticToken returns a getter that always yields token.
func StaticToken(token string) TokenGetter {
	return func() (string, bool) {
		return token, token != ""
	}
}

// Credentials maps capabilities to the getters that prove them.
type Credentials map[Capability]TokenGetter

// Present reports whether c has a getter yielding a non-empty token.
func (c Credentials) Present(capability Capability) bool {
	getter, ok := c[capability]
	if !ok || getter == nil {
		return false
	}
	token, ok := getter()
	return ok && token != ""
}

// Missing returns the capabilities of required that are not present.
func (c Credentials) Missing(required CapabilitySet) []Capability {
	var missing []Capability
	for _, capability := range required.Sorted() {
		if !c.Present(capability) {
			missing = append(missing, capability)
		}
	}
	return missing
}

// Scope returns only the getters whose capability is in required.
// A tool never sees credentials it did not declare.
func (c Credentials) Scope(required CapabilitySet) Credentials {
	scoped := make(Credentials, len(required))
	for capability := range required {
		if getter, ok := c[capability]; ok && getter != nil {
			scoped[capability] = getter
		}
	}
	return scoped
}
