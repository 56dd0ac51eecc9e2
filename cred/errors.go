package cred

import "errors"

// ErrInvalidPrincipal is returned when a credential names the nobody
// uid/gid sentinel as its principal.
var ErrInvalidPrincipal = errors.New("cred: invalid principal nobody")

// ErrInvalidCredential is returned when a credential was decoded but its
// signature did not verify.
var ErrInvalidCredential = errors.New("cred: credential not verified")

// ErrCredentialExpired is returned when a credential is past its
// expiration window.
var ErrCredentialExpired = errors.New("cred: credential expired")

// ErrReplayRejected is returned when a non-initial broadcast block carries
// a signature that was never seeded into the replay cache.
var ErrReplayRejected = errors.New("cred: broadcast signature not in replay cache")

// ErrBackendUnavailable is returned when no signing backend is configured.
var ErrBackendUnavailable = errors.New("cred: no signing backend")

// ErrDecode is returned when a packed credential is structurally invalid.
var ErrDecode = errors.New("cred: malformed credential")

// ErrIdentityLookup is returned when identity enrichment fails during
// credential creation.
var ErrIdentityLookup = errors.New("cred: identity lookup failed")
