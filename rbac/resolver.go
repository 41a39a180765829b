// Package rbac resolves role sets to authorization decisions. Roles map to
// permission grants; a grant ending in "*" matches every permission sharing
// its prefix. Unknown roles and empty role sets always deny.
package rbac

import (
	"sort"
	"strings"
	"sync"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Deny is the zero value; anything unresolvable denies.
	Deny Decision = iota
	// Allow means at least one held role grants the permission.
	Allow
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// permSet is the compiled union of grants for one role combination.
type permSet struct {
	exact    map[string]struct{}
	prefixes []string
}

func (p *permSet) allows(permission string) bool {
	if _, ok := p.exact[permission]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(permission, prefix) {
			return true
		}
	}
	return false
}

// Resolver answers permission checks against a replaceable role table.
// Resolved role combinations are cached; replacing the table bumps the
// version and invalidates the cache, so a policy change applies to every
// check that starts after ReplaceRoles returns.
type Resolver struct {
	mu      sync.RWMutex
	roles   map[string][]string
	version uint64
	cache   map[string]*permSet
}

// NewResolver builds a Resolver from an initial role table. The table maps
// role name to its permission grants. Nil is allowed and denies everything.
func NewResolver(roles map[string][]string) *Resolver {
	r := &Resolver{}
	r.ReplaceRoles(roles)
	return r
}

// ReplaceRoles swaps the entire role table atomically.
func (r *Resolver) ReplaceRoles(roles map[string][]string) {
	copied := make(map[string][]string, len(roles))
	for name, grants := range roles {
		copied[name] = append([]string(nil), grants...)
	}

	r.mu.Lock()
	r.roles = copied
	r.version++
	r.cache = make(map[string]*permSet)
	r.mu.Unlock()
}

// Version returns the role table generation, bumped by every ReplaceRoles.
func (r *Resolver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Authorize decides whether the union of grants across roles covers
// permission. Empty inputs deny.
func (r *Resolver) Authorize(roles []string, permission string) Decision {
	if len(roles) == 0 || permission == "" {
		return Deny
	}

	set := r.resolve(roles)
	if set.allows(permission) {
		return Allow
	}
	return Deny
}

func (r *Resolver) resolve(roles []string) *permSet {
	key := cacheKey(roles)

	r.mu.RLock()
	if set, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return set
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; another goroutine may have compiled
	// the same combination while we waited.
	if set, ok := r.cache[key]; ok {
		return set
	}

	set := &permSet{exact: make(map[string]struct{})}
	for _, role := range roles {
		for _, grant := range r.roles[role] {
			if rest, ok := strings.CutSuffix(grant, "*"); ok {
				set.prefixes = append(set.prefixes, rest)
				continue
			}
			set.exact[grant] = struct{}{}
		}
	}

	r.cache[key] = set
	return set
}

// cacheKey is order-insensitive so ["a","b"] and ["b","a"] share one entry.
func cacheKey(roles []string) string {
	if len(roles) == 1 {
		return roles[0]
	}
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
