package cred

import (
	"encoding/base64"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/workload-auth/cred/pkg/wire"
)

// Backend is the signing capability set the credential core consumes.
// Exactly one backend is active per Manager; implementations must be
// reentrant because backend operations run outside any global lock.
type Backend interface {
	// Sign returns a detached signature over payload.
	Sign(payload []byte) ([]byte, error)

	// Verify checks a detached signature over payload.
	Verify(payload, signature []byte) error

	// Create packs arg at proto, optionally signs, and returns a
	// credential whose wire image reflects the signing operation.
	Create(arg *Args, signIt bool, proto uint16) (*Credential, error)

	// Unpack reverses Create: it decodes the wire image and verifies the
	// signature, marking the credential verified on success.
	Unpack(buf *wire.Buffer, proto uint16) (*Credential, error)

	// CreateNetCred wraps a node-address list into an opaque signed token.
	CreateNetCred(addrs *NodeAddrs, proto uint16) (string, error)

	// ExtractNetCred verifies and decodes a net credential.
	ExtractNetCred(token string, proto uint16) (*NodeAddrs, error)

	// UnpackBroadcast decodes a broadcast credential and verifies its
	// signature, marking it verified on success.
	UnpackBroadcast(buf *wire.Buffer, proto uint16) (*BroadcastCred, error)
}

// Signer is the minimal cryptographic capability a signing mechanism must
// provide. SignerBackend builds the full Backend contract on top of it, so
// a mechanism plugs in by implementing these two methods.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Verify(payload, signature []byte) error
}

// SignerBackend implements Backend generically over a Signer.
type SignerBackend struct {
	signer Signer
	clock  clockwork.Clock
	logger *zap.Logger
}

// interface guard
var _ Backend = (*SignerBackend)(nil)

// SignerBackendOption configures a SignerBackend.
type SignerBackendOption func(*SignerBackend)

// WithClock overrides the clock used to stamp creation times.
func WithClock(clock clockwork.Clock) SignerBackendOption {
	return func(b *SignerBackend) {
		b.clock = clock
	}
}

// WithLogger overrides the backend logger.
func WithLogger(logger *zap.Logger) SignerBackendOption {
	return func(b *SignerBackend) {
		b.logger = logger
	}
}

// NewSignerBackend returns a Backend built on signer.
func NewSignerBackend(signer Signer, opts ...SignerBackendOption) *SignerBackend {
	b := &SignerBackend{
		signer: signer,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.clock == nil {
		b.clock = clockwork.NewRealClock()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	return b
}

func (b *SignerBackend) Sign(payload []byte) ([]byte, error) {
	return b.signer.Sign(payload)
}

func (b *SignerBackend) Verify(payload, signature []byte) error {
	return b.signer.Verify(payload, signature)
}

func (b *SignerBackend) Create(arg *Args, signIt bool, proto uint16) (*Credential, error) {
	ctime := b.clock.Now()

	payload := wire.NewBuffer(4096)
	payload.PackTime(ctime)
	if err := PackArgs(arg, payload, proto); err != nil {
		return nil, err
	}

	var signature []byte
	if signIt {
		var err error
		signature, err = b.signer.Sign(payload.Bytes())
		if err != nil {
			b.logger.Error("failed to sign credential",
				zap.Uint32("job_id", arg.StepID.JobID),
				zap.Error(err))
			return nil, err
		}
	}

	image := wire.NewBuffer(len(payload.Bytes()) + len(signature) + 4)
	image.PackBuf(payload)
	image.PackBytes(signature)

	return &Credential{
		arg:        arg.Clone(),
		ctime:      ctime,
		buffer:     image.Bytes(),
		bufVersion: proto,
		signature:  signature,
	}, nil
}

func (b *SignerBackend) Unpack(buf *wire.Buffer, proto uint16) (*Credential, error) {
	start := buf.Offset()

	ctime, err := buf.UnpackTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	arg, err := UnpackArgs(buf, proto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	payload := buf.Bytes()[start:buf.Offset()]

	signature, err := buf.UnpackBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	c := &Credential{
		arg:        arg,
		ctime:      ctime,
		bufVersion: proto,
		signature:  signature,
	}
	c.buffer = append(c.buffer, buf.Bytes()[start:buf.Offset()]...)

	if signature != nil {
		if err := b.signer.Verify(payload, signature); err != nil {
			b.logger.Error("credential signature did not verify",
				zap.Uint32("job_id", arg.StepID.JobID),
				zap.Error(err))
		} else {
			c.verified = true
		}
	}

	return c, nil
}

func (b *SignerBackend) CreateNetCred(addrs *NodeAddrs, proto uint16) (string, error) {
	if proto < MinProtocolVersion {
		return "", fmt.Errorf("cred: unsupported protocol version %#x", proto)
	}

	nonce, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	payload := wire.NewBuffer(1024)
	payload.Pack16(proto)
	payload.PackStr(nonce.String())
	packNodeAddrs(addrs, payload)

	signature, err := b.signer.Sign(payload.Bytes())
	if err != nil {
		b.logger.Error("failed to sign net credential", zap.Error(err))
		return "", err
	}

	image := wire.NewBuffer(len(payload.Bytes()) + len(signature) + 4)
	image.PackBuf(payload)
	image.PackBytes(signature)

	return base64.StdEncoding.EncodeToString(image.Bytes()), nil
}

func (b *SignerBackend) ExtractNetCred(token string, proto uint16) (*NodeAddrs, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	buf := wire.FromBytes(raw)

	packedProto, err := buf.Unpack16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if packedProto != proto {
		return nil, fmt.Errorf("%w: net credential packed at protocol %#x, requested %#x",
			ErrDecode, packedProto, proto)
	}
	if _, err := buf.UnpackStr(); err != nil { // nonce
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	addrs, err := unpackNodeAddrs(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	payload := buf.Bytes()[:buf.Offset()]

	signature, err := buf.UnpackBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := b.signer.Verify(payload, signature); err != nil {
		return nil, ErrInvalidCredential
	}

	return addrs, nil
}

func (b *SignerBackend) UnpackBroadcast(buf *wire.Buffer, proto uint16) (*BroadcastCred, error) {
	start := buf.Offset()

	bcast, err := unpackBroadcastBody(buf, proto)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	body := buf.Bytes()[start:buf.Offset()]

	signature, err := buf.UnpackBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	bcast.signature = signature

	if signature != nil {
		if err := b.signer.Verify(body, signature); err != nil {
			b.logger.Error("broadcast credential signature did not verify",
				zap.Uint32("job_id", bcast.jobID),
				zap.Error(err))
		} else {
			bcast.verified = true
		}
	}

	return bcast, nil
}
