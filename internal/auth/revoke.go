package auth

import (
	"strings"
	"sync"
	"time"
)

// Denylist invalidates outstanding access tokens for a subject. Tokens have
// no independent store, so revocation is expressed as a per-subject horizon:
// any token issued in a second before the horizon's is rejected. Entries
// matter only for one access-token lifetime; anything older is dropped
// opportunistically.
type Denylist struct {
	mu       sync.RWMutex
	horizons map[string]time.Time
}

// NewDenylist returns an empty denylist.
func NewDenylist() *Denylist {
	return &Denylist{horizons: make(map[string]time.Time)}
}

// Revoke marks every token of subject issued in any second before the given
// instant's as invalid; a token from the horizon's own second stays valid
// (see Revoked). A later call can only move the horizon forward.
func (d *Denylist) Revoke(subject string, issuedBefore time.Time) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.horizons[subject]; ok && cur.After(issuedBefore) {
		return
	}
	d.horizons[subject] = issuedBefore

	cutoff := issuedBefore.Add(-2 * AccessTokenTTL)
	for sub, horizon := range d.horizons {
		if horizon.Before(cutoff) {
			delete(d.horizons, sub)
		}
	}
}

// Revoked reports whether a token issued at issuedAt for subject has been
// revoked. Token issued-at claims carry second precision, so the comparison
// is second-granular: a token minted in the same wall-clock second as the
// revocation survives, which keeps a fresh login usable immediately after a
// role change.
func (d *Denylist) Revoked(subject string, issuedAt time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	horizon, ok := d.horizons[subject]
	if !ok {
		return false
	}
	return issuedAt.Truncate(time.Second).Before(horizon.Truncate(time.Second))
}
