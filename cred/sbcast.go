package cred

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/workload-auth/cred/pkg/wire"
)

// BroadcastFlags qualify a broadcast block on extraction.
type BroadcastFlags uint16

// SharedObject marks blocks of a shared-object set riding on a credential
// whose block 1 already seeded the replay cache.
const SharedObject BroadcastFlags = 1 << 0

// BroadcastArgs is the payload of a broadcast credential: one
// file-broadcast session against a node list for a bounded window.
type BroadcastArgs struct {
	JobID    uint32
	HetJobID uint32
	StepID   uint32

	UID      uint32
	GID      uint32
	UserName string
	Gids     []uint32

	Nodes string

	Expiration time.Time
}

// BroadcastCred is a signed broadcast credential. Unlike a job credential
// it carries no lock: the object is used transiently on receipt.
type BroadcastCred struct {
	ctime      time.Time
	expiration time.Time

	jobID    uint32
	hetJobID uint32
	stepID   uint32

	uid      uint32
	gid      uint32
	userName string
	gids     []uint32

	nodes string

	signature []byte
	verified  bool
}

// Expiration returns the credential's absolute expiration time.
func (b *BroadcastCred) Expiration() time.Time { return b.expiration }

// Verified reports whether the signature has been checked.
func (b *BroadcastCred) Verified() bool { return b.verified }

// Signature returns a copy of the detached signature.
func (b *BroadcastCred) Signature() []byte { return slices.Clone(b.signature) }

// packBody writes every field except the signature, so the signature can
// cover the body alone.
func (b *BroadcastCred) packBody(buf *wire.Buffer, proto uint16) error {
	if proto < MinProtocolVersion {
		return fmt.Errorf("cred: unsupported protocol version %#x", proto)
	}

	buf.PackTime(b.ctime)
	buf.PackTime(b.expiration)
	buf.Pack32(b.jobID)
	buf.Pack32(b.hetJobID)
	buf.Pack32(b.stepID)
	buf.Pack32(b.uid)
	buf.Pack32(b.gid)
	buf.PackStr(b.userName)
	buf.Pack32Array(b.gids)
	buf.PackStr(b.nodes)
	return nil
}

// Pack writes the broadcast credential including its signature.
func (b *BroadcastCred) Pack(buf *wire.Buffer, proto uint16) error {
	if err := b.packBody(buf, proto); err != nil {
		return err
	}
	buf.PackBytes(b.signature)
	return nil
}

func unpackBroadcastBody(buf *wire.Buffer, proto uint16) (*BroadcastCred, error) {
	if proto < MinProtocolVersion {
		return nil, fmt.Errorf("cred: unsupported protocol version %#x", proto)
	}

	b := &BroadcastCred{}
	var err error

	if b.ctime, err = buf.UnpackTime(); err != nil {
		return nil, err
	}
	if b.expiration, err = buf.UnpackTime(); err != nil {
		return nil, err
	}
	if b.jobID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if b.hetJobID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if b.stepID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if b.uid, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if b.gid, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if b.userName, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if b.gids, err = buf.Unpack32Array(); err != nil {
		return nil, err
	}
	if b.nodes, err = buf.UnpackStr(); err != nil {
		return nil, err
	}

	return b, nil
}

// sigHash digests a signature for replay-cache keying: the sum of 16-bit
// big-endian pairs mod 2^32. Collisions are tolerable; the cache grants
// freshness-replay tolerance, never authority.
func sigHash(signature []byte) uint32 {
	var hash uint32
	for i := 0; i < len(signature); i += 2 {
		v := uint32(signature[i]) << 8
		if i+1 < len(signature) {
			v += uint32(signature[i+1])
		}
		hash += v
	}
	return hash
}

type sbcastCacheEntry struct {
	expire time.Time
	value  uint32
}

// CreateBroadcast builds and signs a broadcast credential. A signing
// failure is terminal: no credential is returned.
func (m *Manager) CreateBroadcast(arg *BroadcastArgs, proto uint16) (*BroadcastCred, error) {
	if m.backend == nil {
		return nil, ErrBackendUnavailable
	}

	bcast := &BroadcastCred{
		ctime:      m.clock.Now(),
		expiration: arg.Expiration,
		jobID:      arg.JobID,
		hetJobID:   arg.HetJobID,
		stepID:     arg.StepID,
		uid:        arg.UID,
		gid:        arg.GID,
		userName:   arg.UserName,
		gids:       slices.Clone(arg.Gids),
		nodes:      arg.Nodes,
	}

	if m.sendGids {
		// The user name may still come back empty, in which case the
		// receiving daemon resolves it locally.
		if id, err := m.identity.Fetch(arg.UID, arg.GID, false); err == nil {
			bcast.userName = id.UserName
		}
		if gids, err := m.identity.Groups(arg.UID, arg.GID, bcast.userName); err == nil {
			bcast.gids = gids
		}
	}

	body := wire.NewBuffer(4096)
	if err := bcast.packBody(body, proto); err != nil {
		return nil, err
	}

	signature, err := m.backend.Sign(body.Bytes())
	if err != nil {
		m.logger.Error("failed to sign broadcast credential",
			zap.Uint32("job_id", bcast.jobID),
			zap.Error(err))
		return nil, err
	}
	bcast.signature = signature

	return bcast, nil
}

// ExtractBroadcast validates one block of a broadcast session and returns
// a fresh copy of the credential's payload.
//
// The one-shot verification primitive cannot be re-run without a replay
// error, yet a legitimate broadcast issues many RPCs bearing the same
// credential. Block one pays the full verification and seeds the cache;
// later blocks (and every block of a shared-object set) are admitted on an
// exact (expiration, signature-hash) cache match.
func (m *Manager) ExtractBroadcast(bcast *BroadcastCred, blockNo uint16, flags BroadcastFlags) (*BroadcastArgs, error) {
	now := m.clock.Now()

	if now.After(bcast.expiration) {
		return nil, ErrCredentialExpired
	}

	if blockNo == 1 && flags&SharedObject == 0 {
		if !bcast.verified {
			return nil, ErrInvalidCredential
		}
		m.cacheAdd(bcast)
	} else if !m.cacheLookup(bcast, now) {
		m.logger.Error("broadcast credential signature not in cache",
			zap.Uint32("job_id", bcast.jobID),
			zap.Uint16("block_no", blockNo))
		return nil, ErrReplayRejected
	}

	if bcast.uid == AuthNobody {
		m.logger.Error("refusing to extract broadcast credential for invalid user nobody",
			zap.Uint32("job_id", bcast.jobID))
		return nil, ErrInvalidPrincipal
	}
	if bcast.gid == AuthNobody {
		m.logger.Error("refusing to extract broadcast credential for invalid group nobody",
			zap.Uint32("job_id", bcast.jobID))
		return nil, ErrInvalidPrincipal
	}

	return &BroadcastArgs{
		JobID:      bcast.jobID,
		HetJobID:   bcast.hetJobID,
		StepID:     bcast.stepID,
		UID:        bcast.uid,
		GID:        bcast.gid,
		UserName:   bcast.userName,
		Gids:       slices.Clone(bcast.gids),
		Nodes:      bcast.nodes,
		Expiration: bcast.expiration,
	}, nil
}

func (m *Manager) cacheAdd(bcast *BroadcastCred) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.sbcastCache = append(m.sbcastCache, sbcastCacheEntry{
		expire: bcast.expiration,
		value:  sigHash(bcast.signature),
	})
}

// cacheLookup scans for a record matching the credential's expiration and
// signature hash, purging expired records it passes on the way. Records
// after the first match are left untouched.
func (m *Manager) cacheLookup(bcast *BroadcastCred, now time.Time) bool {
	hash := sigHash(bcast.signature)

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	found := false
	kept := m.sbcastCache[:0]
	for _, entry := range m.sbcastCache {
		if found {
			kept = append(kept, entry)
			continue
		}
		if entry.expire.Equal(bcast.expiration) && entry.value == hash {
			found = true
			kept = append(kept, entry)
			continue
		}
		if entry.expire.After(now) {
			kept = append(kept, entry)
		}
	}
	m.sbcastCache = kept

	return found
}

// UnpackBroadcast decodes and verifies a packed broadcast credential.
func (m *Manager) UnpackBroadcast(buf *wire.Buffer, proto uint16) (*BroadcastCred, error) {
	if m.backend == nil {
		return nil, ErrBackendUnavailable
	}
	return m.backend.UnpackBroadcast(buf, proto)
}

// LogBroadcast writes a summary of the credential to the manager's logger.
func (m *Manager) LogBroadcast(bcast *BroadcastCred) {
	m.logger.Info("broadcast credential",
		zap.Uint32("job_id", bcast.jobID),
		zap.Uint32("step_id", bcast.stepID),
		zap.String("nodes", bcast.nodes),
		zap.Time("ctime", bcast.ctime),
		zap.Time("expiration", bcast.expiration))
}
