package cred

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/workload-auth/cred/pkg/wire"
)

// DefaultExpiration is the freshness window applied when the auth-info
// configuration does not override it.
const DefaultExpiration = 120 * time.Second

// minExpiration is the smallest window the configuration may request.
const minExpiration = 5

// Options configures a Manager.
type Options struct {
	// AuthInfo is the auth-info configuration string; a "cred_expire=N"
	// token overrides the expiration window (seconds, minimum 5).
	AuthInfo string

	// LaunchParams is the launch-parameters configuration string, scanned
	// for "enable_nss_slurm" and "disable_send_gids".
	LaunchParams string

	// Identity resolves principals for identity enrichment. Defaults to a
	// caching resolver over the OS user database.
	Identity IdentityResolver

	Logger *zap.Logger
	Clock  clockwork.Clock
}

// Manager is the credential context: the active signing backend, the
// configuration-derived policy, and the broadcast replay cache. It
// replaces the process-global state of the classic design; construct one
// per process and share it across RPC handlers.
type Manager struct {
	backend  Backend
	identity IdentityResolver
	logger   *zap.Logger
	clock    clockwork.Clock

	expire      time.Duration
	restartTime time.Time

	enableNSS bool
	sendGids  bool

	cacheMu     sync.Mutex
	sbcastCache []sbcastCacheEntry
}

// NewManager builds a Manager around the given backend. The restart
// timestamp is fixed here and never changes for the life of the manager.
func NewManager(backend Backend, opts Options) (*Manager, error) {
	if backend == nil {
		return nil, ErrBackendUnavailable
	}

	m := &Manager{
		backend:  backend,
		identity: opts.Identity,
		logger:   opts.Logger,
		clock:    opts.Clock,
		expire:   DefaultExpiration,
		sendGids: true,
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.identity == nil {
		m.identity = NewCachingResolver(NewOSResolver())
	}

	if value, ok := configValue(opts.AuthInfo, "cred_expire"); ok {
		n, err := strconv.Atoi(value)
		if err != nil || n < minExpiration {
			m.logger.Error("invalid cred_expire, using default",
				zap.String("cred_expire", value),
				zap.Duration("default", DefaultExpiration))
		} else {
			m.expire = time.Duration(n) * time.Second
		}
	}

	if configFlag(opts.LaunchParams, "enable_nss_slurm") {
		m.enableNSS = true
	} else if configFlag(opts.LaunchParams, "disable_send_gids") {
		m.sendGids = false
	}

	m.restartTime = m.clock.Now()

	return m, nil
}

// configValue extracts the value of a "key=value" token from a
// comma-separated configuration string.
func configValue(params, key string) (string, bool) {
	for _, tok := range strings.Split(params, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(tok), "=")
		if found && strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func configFlag(params, key string) bool {
	for _, tok := range strings.Split(params, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), key) {
			return true
		}
	}
	return false
}

// Expiration returns the configured freshness window.
func (m *Manager) Expiration() time.Duration { return m.expire }

// RestartTime returns the timestamp fixed at construction. It serves as a
// lower bound on acceptable credential age: nothing this manager accepts
// can predate it by more than the expiration window.
func (m *Manager) RestartTime() time.Time { return m.restartTime }

// Create builds a job credential for arg, rejecting unresolved principals
// and enriching the identity when configured to. When the identity was
// fetched here it is released again after the backend returns: the caller
// keeps ownership of arg.
func (m *Manager) Create(arg *Args, signIt bool, proto uint16) (*Credential, error) {
	if arg.UID == AuthNobody {
		m.logger.Error("refusing to create credential for invalid user nobody",
			zap.Uint32("job_id", arg.StepID.JobID))
		return nil, ErrInvalidPrincipal
	}
	if arg.GID == AuthNobody {
		m.logger.Error("refusing to create credential for invalid group nobody",
			zap.Uint32("job_id", arg.StepID.JobID))
		return nil, ErrInvalidPrincipal
	}

	arg.CoreArraySize = arg.coreArraySize()

	releaseID := false
	if arg.Identity == nil && (m.enableNSS || m.sendGids) {
		id, err := m.identity.Fetch(arg.UID, arg.GID, m.enableNSS)
		if err != nil {
			m.logger.Error("identity lookup failed",
				zap.Uint32("uid", arg.UID),
				zap.Error(err))
			return nil, ErrIdentityLookup
		}
		arg.Identity = id
		releaseID = true
	}

	cred, err := m.backend.Create(arg, signIt, proto)

	if releaseID {
		arg.Identity = nil
	}

	return cred, err
}

// Faker forces identity enrichment on and creates a signed credential at
// the current protocol version. Test use only.
func (m *Manager) Faker(arg *Args) (*Credential, error) {
	m.sendGids = true

	return m.Create(arg, true, ProtocolVersion)
}

// Unpack decodes and verifies a packed job credential.
func (m *Manager) Unpack(buf *wire.Buffer, proto uint16) (*Credential, error) {
	return m.backend.Unpack(buf, proto)
}

// Verify checks that the credential's signature was verified on unpack and
// that it is still fresh. On success the arg bundle is returned with the
// credential's read lock held; the caller must release it with
// cred.Unlock. On failure the lock is released here.
func (m *Manager) Verify(cred *Credential) (*Args, error) {
	now := m.clock.Now()

	cred.mu.RLock()

	if !cred.verified {
		cred.mu.RUnlock()
		return nil, ErrInvalidCredential
	}

	if now.After(cred.ctime.Add(m.expire)) {
		cred.mu.RUnlock()
		return nil, ErrCredentialExpired
	}

	return cred.arg, nil
}

// CreateNetCred wraps a node-address list into an opaque signed token.
func (m *Manager) CreateNetCred(addrs *NodeAddrs, proto uint16) (string, error) {
	if addrs == nil {
		m.logger.Error("net credential requested without addresses")
		return "", ErrDecode
	}
	return m.backend.CreateNetCred(addrs, proto)
}

// ExtractNetCred verifies and decodes a net credential token.
func (m *Manager) ExtractNetCred(token string, proto uint16) (*NodeAddrs, error) {
	if token == "" {
		m.logger.Error("empty net credential")
		return nil, ErrDecode
	}
	return m.backend.ExtractNetCred(token, proto)
}
