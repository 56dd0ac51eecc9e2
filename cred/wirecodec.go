package cred

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/workload-auth/cred/pkg/gres"
	"github.com/workload-auth/cred/pkg/wire"
)

// PackArgs writes the argument bundle to buf in the protocol-gated layout.
// The byte sequence produced here is what backends sign; field order is
// part of the protocol and must not change within a version.
func PackArgs(a *Args, buf *wire.Buffer, proto uint16) error {
	if proto < MinProtocolVersion {
		return fmt.Errorf("cred: unsupported protocol version %#x", proto)
	}

	buf.Pack32(a.UID)
	buf.Pack32(a.GID)

	packIdentity(a.Identity, buf)

	buf.Pack32(a.StepID.JobID)
	buf.Pack32(a.StepID.HetJobID)
	buf.Pack32(a.StepID.Step)

	buf.PackStr(a.JobHostlist)
	buf.PackStr(a.StepHostlist)
	buf.Pack32(a.JobNHosts)

	buf.Pack16Array(a.SocketsPerNode)
	buf.Pack16Array(a.CoresPerSocket)
	buf.Pack32Array(a.SockCoreRepCount)
	buf.Pack32(a.CoreArraySize)

	packBitmap(a.JobCoreBitmap, buf)
	packBitmap(a.StepCoreBitmap, buf)

	buf.Pack64Array(a.JobMemAlloc)
	buf.Pack32Array(a.JobMemAllocRepCount)
	buf.Pack64Array(a.StepMemAlloc)
	buf.Pack32Array(a.StepMemAllocRepCount)

	packGres(a.JobGresList, buf)
	packGres(a.StepGresList, buf)

	buf.PackStr(a.JobAccount)
	buf.PackStr(a.JobAliasList)
	buf.PackStr(a.JobComment)
	buf.PackStr(a.JobConstraints)
	buf.PackStr(a.JobLicenses)
	buf.PackStr(a.JobPartition)
	buf.PackStr(a.JobReservation)
	buf.PackStr(a.JobStdErr)
	buf.PackStr(a.JobStdIn)
	buf.PackStr(a.JobStdOut)

	packNodeAddrs(a.JobNodeAddrs, buf)

	return nil
}

// UnpackArgs reverses PackArgs.
func UnpackArgs(buf *wire.Buffer, proto uint16) (*Args, error) {
	if proto < MinProtocolVersion {
		return nil, fmt.Errorf("cred: unsupported protocol version %#x", proto)
	}

	a := &Args{}
	var err error

	if a.UID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if a.GID, err = buf.Unpack32(); err != nil {
		return nil, err
	}

	if a.Identity, err = unpackIdentity(buf); err != nil {
		return nil, err
	}

	if a.StepID.JobID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if a.StepID.HetJobID, err = buf.Unpack32(); err != nil {
		return nil, err
	}
	if a.StepID.Step, err = buf.Unpack32(); err != nil {
		return nil, err
	}

	if a.JobHostlist, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.StepHostlist, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobNHosts, err = buf.Unpack32(); err != nil {
		return nil, err
	}

	if a.SocketsPerNode, err = buf.Unpack16Array(); err != nil {
		return nil, err
	}
	if a.CoresPerSocket, err = buf.Unpack16Array(); err != nil {
		return nil, err
	}
	if a.SockCoreRepCount, err = buf.Unpack32Array(); err != nil {
		return nil, err
	}
	if a.CoreArraySize, err = buf.Unpack32(); err != nil {
		return nil, err
	}

	if a.JobCoreBitmap, err = unpackBitmap(buf); err != nil {
		return nil, err
	}
	if a.StepCoreBitmap, err = unpackBitmap(buf); err != nil {
		return nil, err
	}

	if a.JobMemAlloc, err = buf.Unpack64Array(); err != nil {
		return nil, err
	}
	if a.JobMemAllocRepCount, err = buf.Unpack32Array(); err != nil {
		return nil, err
	}
	if a.StepMemAlloc, err = buf.Unpack64Array(); err != nil {
		return nil, err
	}
	if a.StepMemAllocRepCount, err = buf.Unpack32Array(); err != nil {
		return nil, err
	}

	if a.JobGresList, err = unpackGres(buf); err != nil {
		return nil, err
	}
	if a.StepGresList, err = unpackGres(buf); err != nil {
		return nil, err
	}

	if a.JobAccount, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobAliasList, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobComment, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobConstraints, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobLicenses, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobPartition, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobReservation, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobStdErr, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobStdIn, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if a.JobStdOut, err = buf.UnpackStr(); err != nil {
		return nil, err
	}

	if a.JobNodeAddrs, err = unpackNodeAddrs(buf); err != nil {
		return nil, err
	}

	return a, nil
}

func packIdentity(id *Identity, buf *wire.Buffer) {
	if id == nil {
		buf.PackBool(false)
		return
	}
	buf.PackBool(true)
	buf.PackStr(id.UserName)
	buf.Pack32Array(id.Gids)
	buf.PackStr(id.Home)
	buf.PackStr(id.Shell)
}

func unpackIdentity(buf *wire.Buffer) (*Identity, error) {
	present, err := buf.UnpackBool()
	if err != nil || !present {
		return nil, err
	}

	id := &Identity{}
	if id.UserName, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if id.Gids, err = buf.Unpack32Array(); err != nil {
		return nil, err
	}
	if id.Home, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	if id.Shell, err = buf.UnpackStr(); err != nil {
		return nil, err
	}
	return id, nil
}

func packBitmap(bm *bitset.BitSet, buf *wire.Buffer) {
	if bm == nil {
		buf.PackBool(false)
		return
	}
	buf.PackBool(true)
	buf.Pack32(uint32(bm.Len()))
	buf.Pack64Array(bm.Bytes())
}

func unpackBitmap(buf *wire.Buffer) (*bitset.BitSet, error) {
	present, err := buf.UnpackBool()
	if err != nil || !present {
		return nil, err
	}

	nbits, err := buf.Unpack32()
	if err != nil {
		return nil, err
	}
	words, err := buf.Unpack64Array()
	if err != nil {
		return nil, err
	}
	if len(words)*64 < int(nbits) {
		return nil, wire.ErrShortBuffer
	}
	return bitset.FromWithLength(uint(nbits), words), nil
}

func packGres(l gres.List, buf *wire.Buffer) {
	if l == nil {
		buf.PackBool(false)
		return
	}
	buf.PackBool(true)
	buf.Pack32(uint32(len(l)))
	for _, s := range l {
		buf.PackStr(s.Plugin)
		buf.PackStr(s.TypeName)
		buf.Pack64Array(s.CountPerNode)
	}
}

func unpackGres(buf *wire.Buffer) (gres.List, error) {
	present, err := buf.UnpackBool()
	if err != nil || !present {
		return nil, err
	}

	n, err := buf.Unpack32()
	if err != nil {
		return nil, err
	}
	l := make(gres.List, 0, n)
	for i := uint32(0); i < n; i++ {
		var s gres.State
		if s.Plugin, err = buf.UnpackStr(); err != nil {
			return nil, err
		}
		if s.TypeName, err = buf.UnpackStr(); err != nil {
			return nil, err
		}
		if s.CountPerNode, err = buf.Unpack64Array(); err != nil {
			return nil, err
		}
		l = append(l, s)
	}
	return l, nil
}

func packNodeAddrs(n *NodeAddrs, buf *wire.Buffer) {
	if n == nil {
		buf.PackBool(false)
		return
	}
	buf.PackBool(true)
	buf.Pack32(uint32(len(n.Hostnames)))
	for i := range n.Hostnames {
		buf.PackStr(n.Hostnames[i])
		buf.PackStr(n.Addresses[i])
	}
}

func unpackNodeAddrs(buf *wire.Buffer) (*NodeAddrs, error) {
	present, err := buf.UnpackBool()
	if err != nil || !present {
		return nil, err
	}

	count, err := buf.Unpack32()
	if err != nil {
		return nil, err
	}
	n := &NodeAddrs{
		Hostnames: make([]string, 0, count),
		Addresses: make([]string, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		host, err := buf.UnpackStr()
		if err != nil {
			return nil, err
		}
		addr, err := buf.UnpackStr()
		if err != nil {
			return nil, err
		}
		n.Hostnames = append(n.Hostnames, host)
		n.Addresses = append(n.Addresses, addr)
	}
	return n, nil
}
