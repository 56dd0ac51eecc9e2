package cred_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workload-auth/cred/cred"
	"github.com/workload-auth/cred/pkg/wire"
)

// newBroadcast creates, packs and unpacks a broadcast credential so the
// returned one is verified, the way a node daemon receives it.
func newBroadcast(t *testing.T, manager *cred.Manager, arg *cred.BroadcastArgs) *cred.BroadcastCred {
	t.Helper()

	created, err := manager.CreateBroadcast(arg, cred.ProtocolVersion)
	require.NoError(t, err)

	packed := wire.NewBuffer(4096)
	require.NoError(t, created.Pack(packed, cred.ProtocolVersion))

	unpacked, err := manager.UnpackBroadcast(wire.FromBytes(packed.Bytes()), cred.ProtocolVersion)
	require.NoError(t, err)
	require.True(t, unpacked.Verified())

	return unpacked
}

func sampleBroadcastArgs(expiration time.Time) *cred.BroadcastArgs {
	return &cred.BroadcastArgs{
		JobID:      42,
		StepID:     0,
		UID:        1000,
		GID:        1000,
		Nodes:      "n[1-4]",
		Expiration: expiration,
	}
}

func TestBroadcastMultiBlock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	bcast := newBroadcast(t, manager, sampleBroadcastArgs(clock.Now().Add(60*time.Second)))

	arg, err := manager.ExtractBroadcast(bcast, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), arg.JobID)
	assert.Equal(t, "n[1-4]", arg.Nodes)
	// Identity enrichment filled in the user and supplementary gids.
	assert.Equal(t, "alice", arg.UserName)
	assert.Equal(t, []uint32{1000, 2000}, arg.Gids)

	_, err = manager.ExtractBroadcast(bcast, 2, 0)
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	_, err = manager.ExtractBroadcast(bcast, 3, 0)
	assert.ErrorIs(t, err, cred.ErrCredentialExpired)
}

func TestBroadcastReplay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	bcast := newBroadcast(t, manager, sampleBroadcastArgs(clock.Now().Add(60*time.Second)))

	// Block 2 with no prior seeding must be rejected.
	_, err := manager.ExtractBroadcast(bcast, 2, 0)
	assert.ErrorIs(t, err, cred.ErrReplayRejected)
}

func TestBroadcastSharedObject(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	bcast := newBroadcast(t, manager, sampleBroadcastArgs(clock.Now().Add(60*time.Second)))

	// A shared-object block 1 never seeds; it rides on the executable's
	// credential, which has not been extracted yet.
	_, err := manager.ExtractBroadcast(bcast, 1, cred.SharedObject)
	assert.ErrorIs(t, err, cred.ErrReplayRejected)

	_, err = manager.ExtractBroadcast(bcast, 1, 0)
	require.NoError(t, err)

	_, err = manager.ExtractBroadcast(bcast, 1, cred.SharedObject)
	require.NoError(t, err)
}

func TestBroadcastUnverified(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	// Created locally, never unpacked: the signature was never checked.
	created, err := manager.CreateBroadcast(sampleBroadcastArgs(clock.Now().Add(60*time.Second)), cred.ProtocolVersion)
	require.NoError(t, err)
	require.False(t, created.Verified())

	_, err = manager.ExtractBroadcast(created, 1, 0)
	assert.ErrorIs(t, err, cred.ErrInvalidCredential)
}

func TestBroadcastNobody(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	arg := sampleBroadcastArgs(clock.Now().Add(60 * time.Second))
	arg.UID = cred.AuthNobody

	bcast := newBroadcast(t, manager, arg)

	_, err := manager.ExtractBroadcast(bcast, 1, 0)
	assert.ErrorIs(t, err, cred.ErrInvalidPrincipal)
}

func TestBroadcastExpiredBeforeFirstBlock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))
	manager := newManager(t, newSigner(t), clock, "")

	bcast := newBroadcast(t, manager, sampleBroadcastArgs(clock.Now().Add(time.Second)))

	clock.Advance(2 * time.Second)
	_, err := manager.ExtractBroadcast(bcast, 1, 0)
	assert.ErrorIs(t, err, cred.ErrCredentialExpired)
}
