package cred

import (
	"fmt"
	"os/user"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"
)

// IdentityResolver resolves principals to enriched identities. Create
// paths use Fetch when identity enrichment is enabled; broadcast creation
// uses Groups to attach the supplementary gid list.
type IdentityResolver interface {
	// Fetch resolves uid/gid to a full identity. When extended is true the
	// home directory and shell are included for name-service forwarding.
	Fetch(uid, gid uint32, extended bool) (*Identity, error)

	// Groups returns the supplementary gid list for the principal,
	// including gid itself.
	Groups(uid, gid uint32, userName string) ([]uint32, error)
}

// OSResolver resolves identities against the local user database. Its
// extended Fetch fills in the home directory only; Shell is always left
// empty.
type OSResolver struct{}

// NewOSResolver returns a resolver backed by os/user.
func NewOSResolver() OSResolver { return OSResolver{} }

func (OSResolver) Fetch(uid, gid uint32, extended bool) (*Identity, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", uid, err)
	}

	gids, err := groupIDs(u, gid)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		UserName: u.Username,
		Gids:     gids,
	}
	if extended {
		id.Home = u.HomeDir
	}
	return id, nil
}

func (OSResolver) Groups(uid, gid uint32, userName string) ([]uint32, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", uid, err)
	}
	return groupIDs(u, gid)
}

func groupIDs(u *user.User, gid uint32) ([]uint32, error) {
	raw, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("groups for %s: %w", u.Username, err)
	}

	gids := make([]uint32, 0, len(raw)+1)
	for _, g := range raw {
		v, err := strconv.ParseUint(g, 10, 32)
		if err != nil {
			continue
		}
		gids = append(gids, uint32(v))
	}
	if !slices.Contains(gids, gid) {
		gids = append(gids, gid)
	}
	return gids, nil
}

type groupKey struct {
	uid uint32
	gid uint32
}

// CachingResolver memoizes supplementary group lookups, which dominate
// broadcast creation cost on large group databases. Fetch passes through.
type CachingResolver struct {
	next IdentityResolver

	mu     sync.RWMutex
	groups map[groupKey][]uint32
}

// NewCachingResolver wraps next with a group-lookup cache.
func NewCachingResolver(next IdentityResolver) *CachingResolver {
	return &CachingResolver{
		next:   next,
		groups: make(map[groupKey][]uint32),
	}
}

func (r *CachingResolver) Fetch(uid, gid uint32, extended bool) (*Identity, error) {
	return r.next.Fetch(uid, gid, extended)
}

func (r *CachingResolver) Groups(uid, gid uint32, userName string) ([]uint32, error) {
	key := groupKey{uid: uid, gid: gid}

	r.mu.RLock()
	cached, ok := r.groups[key]
	r.mu.RUnlock()
	if ok {
		return slices.Clone(cached), nil
	}

	gids, err := r.next.Groups(uid, gid, userName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.groups[key] = slices.Clone(gids)
	r.mu.Unlock()

	return gids, nil
}
