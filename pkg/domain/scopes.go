package domain

// Scope names the classes of account data a caller's token may touch. The
// gate treats the caller's scope set as opaque and only checks membership.
type Scope string

const (
	ScopeProfile    Scope = "profile"
	ScopeEmail      Scope = "email"
	ScopePhone      Scope = "phone"
	ScopeIdentities Scope = "identities"
	ScopeAddress    Scope = "address"
)

// ScopeSet is the caller's granted scopes as resolved by the auth layer.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from raw scope strings.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[Scope(s)] = struct{}{}
	}
	return set
}

// Has reports membership of a single scope.
func (s ScopeSet) Has(scope Scope) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes as strings, for logging.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, string(scope))
	}
	return out
}
