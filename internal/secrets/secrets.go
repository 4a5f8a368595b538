// Package secrets provides the secret-store boundary of the engine: an
// opaque key lookup scoped by environment, and the masker that keeps
// resolved values out of captured output.
package secrets

// RepositoryScope is the scope name for repository-wide secrets.
const RepositoryScope = ""

// Resolver is the external secret store capability the engine consumes.
// Scope is an environment name, or RepositoryScope for repository-wide
// secrets.
type Resolver interface {
	Resolve(scope, key string) (value string, found bool)
}

// Static is an in-memory Resolver, used by the CLI (loaded from a YAML file)
// and by tests.
type Static struct {
	Repository   map[string]string
	Environments map[string]map[string]string
}

// Resolve implements Resolver.
func (s *Static) Resolve(scope, key string) (string, bool) {
	if scope == RepositoryScope {
		v, ok := s.Repository[key]
		return v, ok
	}
	v, ok := s.Environments[scope][key]
	return v, ok
}

// Scoped layers scopes over a Resolver: the first scope holding a key wins.
// A job bound to an environment resolves through
// Scoped{r, [environment, RepositoryScope]}, so environment secrets shadow
// same-named repository secrets for that job only.
type Scoped struct {
	Resolver Resolver
	Scopes   []string
}

// Lookup resolves key through the scope chain.
func (s Scoped) Lookup(key string) (string, bool) {
	for _, scope := range s.Scopes {
		if v, ok := s.Resolver.Resolve(scope, key); ok {
			return v, true
		}
	}
	return "", false
}
