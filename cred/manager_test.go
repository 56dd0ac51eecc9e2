package cred

import (
	"testing"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct{}

func (fakeSigner) Sign(payload []byte) ([]byte, error) {
	sum := byte(0)
	for _, b := range payload {
		sum += b
	}
	return []byte{sum, ^sum}, nil
}

func (fakeSigner) Verify(payload, signature []byte) error {
	expected, _ := fakeSigner{}.Sign(payload)
	if len(signature) != len(expected) || signature[0] != expected[0] || signature[1] != expected[1] {
		return ErrInvalidCredential
	}
	return nil
}

func newFakeManager(t *testing.T, clock clockwork.Clock, authInfo, launchParams string) *Manager {
	t.Helper()

	manager, err := NewManager(NewSignerBackend(fakeSigner{}, WithClock(clock)), Options{
		AuthInfo:     authInfo,
		LaunchParams: launchParams,
		Clock:        clock,
	})
	require.NoError(t, err)

	return manager
}

func TestNewManagerNilBackend(t *testing.T) {
	_, err := NewManager(nil, Options{})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestManagerExpireConfig(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))

	tests := []struct {
		name     string
		authInfo string
		expected time.Duration
	}{
		{"default", "", DefaultExpiration},
		{"configured", "cred_expire=7", 7 * time.Second},
		{"other tokens", "munge_socket=/run/munge,cred_expire=600", 600 * time.Second},
		{"below minimum", "cred_expire=3", DefaultExpiration},
		{"garbage", "cred_expire=soon", DefaultExpiration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newFakeManager(t, clock, tt.authInfo, "")
			assert.Equal(t, tt.expected, manager.Expiration())
		})
	}
}

func TestManagerLaunchParams(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1257894000, 0))

	t.Run("defaults", func(t *testing.T) {
		manager := newFakeManager(t, clock, "", "")
		assert.False(t, manager.enableNSS)
		assert.True(t, manager.sendGids)
	})

	t.Run("enable_nss_slurm", func(t *testing.T) {
		manager := newFakeManager(t, clock, "", "use_interactive_step,enable_nss_slurm")
		assert.True(t, manager.enableNSS)
		assert.True(t, manager.sendGids)
	})

	t.Run("disable_send_gids", func(t *testing.T) {
		manager := newFakeManager(t, clock, "", "disable_send_gids")
		assert.False(t, manager.enableNSS)
		assert.False(t, manager.sendGids)
	})
}

func TestManagerRestartTime(t *testing.T) {
	now := time.Unix(1257894000, 0)
	clock := clockwork.NewFakeClockAt(now)

	manager := newFakeManager(t, clock, "", "")
	assert.True(t, manager.RestartTime().Equal(now))
}

func TestCoreArraySize(t *testing.T) {
	tests := []struct {
		name     string
		reps     []uint32
		nhosts   uint32
		expected uint32
	}{
		{"empty", nil, 4, 0},
		{"single shape", []uint32{4}, 4, 1},
		{"two shapes", []uint32{2, 2}, 4, 2},
		{"first covers all", []uint32{8, 2}, 4, 1},
		{"trailing unused", []uint32{2, 2, 5}, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Args{SockCoreRepCount: tt.reps, JobNHosts: tt.nhosts}
			assert.Equal(t, tt.expected, a.coreArraySize())
		})
	}
}

func TestRepCountIndex(t *testing.T) {
	counts := []uint32{2, 1, 3}

	assert.Equal(t, 0, RepCountIndex(counts, 0))
	assert.Equal(t, 0, RepCountIndex(counts, 1))
	assert.Equal(t, 1, RepCountIndex(counts, 2))
	assert.Equal(t, 2, RepCountIndex(counts, 3))
	assert.Equal(t, 2, RepCountIndex(counts, 5))
	assert.Equal(t, -1, RepCountIndex(counts, 6))
	assert.Equal(t, -1, RepCountIndex(counts, -1))
	assert.Equal(t, -1, RepCountIndex(nil, 0))
}

func TestSigHash(t *testing.T) {
	assert.Equal(t, uint32(0), sigHash(nil))
	assert.Equal(t, uint32(0x0102), sigHash([]byte{0x01, 0x02}))
	assert.Equal(t, uint32(0x0102+0x0300), sigHash([]byte{0x01, 0x02, 0x03}))
	assert.Equal(t, uint32(0x0102+0x0304), sigHash([]byte{0x01, 0x02, 0x03, 0x04}))
}

func TestFormatCoreRanges(t *testing.T) {
	bm := bitset.New(16)
	for _, i := range []uint{0, 1, 2, 7, 12, 13, 14} {
		bm.Set(i)
	}
	assert.Equal(t, "0-2,7,12-14", formatCoreRanges(bm))

	assert.Equal(t, "", formatCoreRanges(bitset.New(8)))

	single := bitset.New(8)
	single.Set(5)
	assert.Equal(t, "5", formatCoreRanges(single))
}

func TestNodeBitRange(t *testing.T) {
	arg := &Args{
		SocketsPerNode:   []uint16{1, 2},
		CoresPerSocket:   []uint16{4, 2},
		SockCoreRepCount: []uint32{2, 1},
	}

	first, last, err := nodeBitRange(arg, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{0, 4}, [2]uint32{first, last})

	first, last, err = nodeBitRange(arg, 1)
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{4, 8}, [2]uint32{first, last})

	first, last, err = nodeBitRange(arg, 2)
	require.NoError(t, err)
	assert.Equal(t, [2]uint32{8, 12}, [2]uint32{first, last})

	_, _, err = nodeBitRange(arg, 3)
	assert.Error(t, err)
}

// Seed entries expiring at t+10 and t+100; at t+50 a lookup that matches
// the second must also drop the first on its way through.
func TestCachePrune(t *testing.T) {
	now := time.Unix(1257894000, 0)
	clock := clockwork.NewFakeClockAt(now)
	manager := newFakeManager(t, clock, "", "")

	first := &BroadcastCred{
		expiration: now.Add(10 * time.Second),
		signature:  []byte("sig-one"),
	}
	second := &BroadcastCred{
		expiration: now.Add(100 * time.Second),
		signature:  []byte("sig-two"),
	}

	manager.cacheAdd(first)
	manager.cacheAdd(second)
	require.Len(t, manager.sbcastCache, 2)

	clock.Advance(50 * time.Second)

	assert.True(t, manager.cacheLookup(second, clock.Now()))
	assert.Len(t, manager.sbcastCache, 1)

	assert.False(t, manager.cacheLookup(first, clock.Now()))
}

func TestCacheLookupDistinguishesExpiration(t *testing.T) {
	now := time.Unix(1257894000, 0)
	clock := clockwork.NewFakeClockAt(now)
	manager := newFakeManager(t, clock, "", "")

	seeded := &BroadcastCred{
		expiration: now.Add(60 * time.Second),
		signature:  []byte("sig"),
	}
	manager.cacheAdd(seeded)

	sameHash := &BroadcastCred{
		expiration: now.Add(90 * time.Second),
		signature:  []byte("sig"),
	}
	assert.False(t, manager.cacheLookup(sameHash, clock.Now()))
	assert.True(t, manager.cacheLookup(seeded, clock.Now()))
}

// A pending writer must wait for all readers, and readers must not block
// each other.
func TestCredentialLockDiscipline(t *testing.T) {
	credential := &Credential{arg: &Args{UID: 1000}}

	first := credential.Args()
	require.NotNil(t, first)
	second := credential.Args()
	require.NotNil(t, second)

	assert.False(t, credential.mu.TryLock())

	credential.Unlock()
	assert.False(t, credential.mu.TryLock())

	credential.Unlock()
	assert.True(t, credential.mu.TryLock())
	credential.mu.Unlock()
}
