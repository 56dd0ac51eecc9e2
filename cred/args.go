// Package cred implements the signed, time-limited capability tokens a
// controller issues to authorize a compute-node daemon: job credentials
// binding a step to a user and an allocation shape, and broadcast
// credentials authorizing replay-tolerant file distribution.
package cred

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"

	"github.com/workload-auth/cred/pkg/gres"
)

// AuthNobody is the sentinel uid/gid for an unresolved principal. No
// create path accepts it.
const AuthNobody uint32 = 0xfffffffe

// BatchScript is the distinguished step id of a batch step.
const BatchScript uint32 = 0xfffffffa

// Wire protocol versions. Every packed credential is tagged with the
// version it was packed at; packers reject versions below the minimum.
const (
	ProtocolVersion    uint16 = 42 << 8
	MinProtocolVersion uint16 = 41 << 8
)

// StepID identifies a step within a job, including the heterogeneous job
// leader when the job is part of a het job.
type StepID struct {
	JobID    uint32
	HetJobID uint32
	Step     uint32
}

// IsBatch reports whether the step is the batch script step.
func (s StepID) IsBatch() bool { return s.Step == BatchScript }

// Identity carries the enriched identity of the credential's principal,
// resolved at creation so the node daemon does not have to.
type Identity struct {
	UserName string
	Gids     []uint32
	Home     string
	Shell    string
}

// Clone deep-copies the identity.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	out := *id
	out.Gids = slices.Clone(id.Gids)
	return &out
}

// NodeAddrs maps node hostnames to their reachable addresses. It rides in
// net credentials and, optionally, in job credentials.
type NodeAddrs struct {
	Hostnames []string
	Addresses []string
}

// Clone deep-copies the address list.
func (n *NodeAddrs) Clone() *NodeAddrs {
	if n == nil {
		return nil
	}
	return &NodeAddrs{
		Hostnames: slices.Clone(n.Hostnames),
		Addresses: slices.Clone(n.Addresses),
	}
}

// Args is the authorization payload of a job credential.
//
// The topology arrays are run-length encoded over nodes: entry k of
// SocketsPerNode/CoresPerSocket describes SockCoreRepCount[k] consecutive
// nodes of the job hostlist. The core bitmaps are indexed by a global bit
// space built by walking those arrays in order.
type Args struct {
	UID      uint32
	GID      uint32
	Identity *Identity

	StepID StepID

	JobHostlist  string
	StepHostlist string
	JobNHosts    uint32

	SocketsPerNode   []uint16
	CoresPerSocket   []uint16
	SockCoreRepCount []uint32

	// CoreArraySize is the effective length of the shape arrays, computed
	// at create time from SockCoreRepCount and JobNHosts.
	CoreArraySize uint32

	JobCoreBitmap  *bitset.BitSet
	StepCoreBitmap *bitset.BitSet

	JobMemAlloc          []uint64
	JobMemAllocRepCount  []uint32
	StepMemAlloc         []uint64
	StepMemAllocRepCount []uint32

	JobGresList  gres.List
	StepGresList gres.List

	JobAccount     string
	JobAliasList   string
	JobComment     string
	JobConstraints string
	JobLicenses    string
	JobPartition   string
	JobReservation string
	JobStdErr      string
	JobStdIn       string
	JobStdOut      string

	JobNodeAddrs *NodeAddrs
}

// Clone deep-copies the argument bundle.
func (a *Args) Clone() *Args {
	if a == nil {
		return nil
	}
	out := *a
	out.Identity = a.Identity.Clone()
	out.SocketsPerNode = slices.Clone(a.SocketsPerNode)
	out.CoresPerSocket = slices.Clone(a.CoresPerSocket)
	out.SockCoreRepCount = slices.Clone(a.SockCoreRepCount)
	if a.JobCoreBitmap != nil {
		out.JobCoreBitmap = a.JobCoreBitmap.Clone()
	}
	if a.StepCoreBitmap != nil {
		out.StepCoreBitmap = a.StepCoreBitmap.Clone()
	}
	out.JobMemAlloc = slices.Clone(a.JobMemAlloc)
	out.JobMemAllocRepCount = slices.Clone(a.JobMemAllocRepCount)
	out.StepMemAlloc = slices.Clone(a.StepMemAlloc)
	out.StepMemAllocRepCount = slices.Clone(a.StepMemAllocRepCount)
	out.JobGresList = a.JobGresList.Clone()
	out.StepGresList = a.StepGresList.Clone()
	out.JobNodeAddrs = a.JobNodeAddrs.Clone()
	return &out
}

// coreArraySize returns the effective length of the run-length shape
// arrays: one past the entry whose cumulative rep count first covers
// JobNHosts.
func (a *Args) coreArraySize() uint32 {
	if len(a.SockCoreRepCount) == 0 {
		return 0
	}
	var recs uint32
	i := 0
	for ; i < len(a.SockCoreRepCount) && uint32(i) < a.JobNHosts; i++ {
		recs += a.SockCoreRepCount[i]
		if recs >= a.JobNHosts {
			break
		}
	}
	return uint32(i) + 1
}

// RepCountIndex decodes a run-length rep-count array: it returns the index
// of the entry covering nodeIndex, or -1 if the counts do not reach it.
func RepCountIndex(counts []uint32, nodeIndex int) int {
	if nodeIndex < 0 {
		return -1
	}
	covered := 0
	for i, c := range counts {
		covered += int(c)
		if nodeIndex < covered {
			return i
		}
	}
	return -1
}
