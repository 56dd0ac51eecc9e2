package cred

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/workload-auth/cred/pkg/wire"
)

// Credential is a job credential: an argument bundle plus the signed wire
// image it crossed (or will cross) the wire as.
//
// The arg bundle is shared between concurrent RPC handlers; Args acquires
// the read lock and the caller must release it with Unlock when done with
// the returned bundle.
type Credential struct {
	mu sync.RWMutex

	arg *Args

	// ctime is the signing time; freshness is judged against it.
	ctime time.Time

	verified bool

	// buffer is the packed wire image at exactly bufVersion. It is
	// authoritative on the wire: mutating arg after signing does not
	// update it.
	buffer     []byte
	bufVersion uint16

	signature []byte
}

// NewCredential returns an empty credential. When allocArg is set, the arg
// bundle is allocated with the principal seeded to nobody so an unfilled
// credential can never pass a create path.
func NewCredential(allocArg bool) *Credential {
	c := &Credential{}
	if allocArg {
		c.arg = &Args{UID: AuthNobody, GID: AuthNobody}
	}
	return c
}

// Args returns the argument bundle with the read lock held. The caller
// must call Unlock when finished.
func (c *Credential) Args() *Args {
	c.mu.RLock()
	return c.arg
}

// Unlock releases the read lock taken by Args or a successful Verify.
func (c *Credential) Unlock() {
	c.mu.RUnlock()
}

// Verified reports whether the credential's signature has been checked.
func (c *Credential) Verified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.verified
}

// CreateTime returns the signing time recorded by the backend.
func (c *Credential) CreateTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctime
}

// Signature returns a copy of the detached signature.
func (c *Credential) Signature() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.signature)
}

// DataKind selects a single field for Data.
type DataKind int

const (
	DataJobGresList DataKind = iota
	DataStepGresList
	DataJobAliasList
	DataJobNodeAddrs
)

// Data returns a single field of the arg bundle without exposing the rest,
// for consumers that only need one list. Unknown kinds return nil.
func (c *Credential) Data(kind DataKind) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.arg == nil {
		return nil
	}

	switch kind {
	case DataJobGresList:
		return c.arg.JobGresList
	case DataStepGresList:
		return c.arg.StepGresList
	case DataJobAliasList:
		return c.arg.JobAliasList
	case DataJobNodeAddrs:
		return c.arg.JobNodeAddrs
	default:
		return nil
	}
}

// Pack copies the cached wire image into buf. It never re-runs the
// backend: the bytes that were signed are the bytes that ship. The
// requested protocol version must match the version the image was packed
// at.
func (c *Credential) Pack(buf *wire.Buffer, proto uint16) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.buffer == nil {
		return fmt.Errorf("cred: credential has no wire image")
	}
	if c.bufVersion != proto {
		return fmt.Errorf("cred: credential packed at protocol %#x, requested %#x", c.bufVersion, proto)
	}

	buf.PackRaw(c.buffer)
	return nil
}
