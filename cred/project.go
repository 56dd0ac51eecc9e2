package cred

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/workload-auth/cred/pkg/gres"
	"github.com/workload-auth/cred/pkg/hostlist"
)

// FormatCoreAllocs projects the credential's global allocation onto a
// single node: the job and step core sets formatted as range lists
// ("0-2,7,12-14"), plus the node's job and step memory limits.
//
// The bitmap slices are copied, so the results remain valid after the
// credential is released.
func (m *Manager) FormatCoreAllocs(cred *Credential, nodeName string, cpus uint16) (jobCores, stepCores string, jobMem, stepMem uint64, err error) {
	arg := cred.Args()
	defer cred.Unlock()

	hset, err := hostlist.Parse(arg.JobHostlist)
	if err != nil {
		m.logger.Error("unable to parse job hostlist",
			zap.String("hostlist", arg.JobHostlist),
			zap.Error(err))
		return "", "", 0, 0, err
	}

	hostIndex := hset.Find(nodeName)
	if hostIndex < 0 || hostIndex >= int(arg.JobNHosts) {
		m.logger.Error("host not in job hostlist",
			zap.String("node", nodeName),
			zap.String("hostlist", arg.JobHostlist),
			zap.Uint32("job_id", arg.StepID.JobID))
		return "", "", 0, 0, fmt.Errorf("cred: host %s not in job hostlist %s", nodeName, arg.JobHostlist)
	}

	iFirst, iLast, err := nodeBitRange(arg, hostIndex)
	if err != nil {
		return "", "", 0, 0, err
	}

	span := iLast - iFirst
	jobBitmap := bitset.New(uint(span))
	stepBitmap := bitset.New(uint(span))
	for i := uint32(0); i < span; i++ {
		if arg.JobCoreBitmap != nil && arg.JobCoreBitmap.Test(uint(iFirst+i)) {
			jobBitmap.Set(uint(i))
		}
		if arg.StepCoreBitmap != nil && arg.StepCoreBitmap.Test(uint(iFirst+i)) {
			stepBitmap.Set(uint(i))
		}
	}

	if span == 0 {
		m.logger.Error("step credential has no CPUs selected")
	} else if factor := uint32(cpus) / span; factor > 1 {
		m.logger.Debug("scaling CPU count",
			zap.Uint32("factor", factor),
			zap.Uint16("cpus", cpus),
			zap.Uint32("cores", span))
	}

	jobMem, stepMem = m.memLimits(arg, nodeName)

	return formatCoreRanges(jobBitmap), formatCoreRanges(stepBitmap), jobMem, stepMem, nil
}

// nodeBitRange walks the run-length shape arrays to the half-open slice
// [iFirst, iLast) of the global core bitmap belonging to hostIndex.
func nodeBitRange(arg *Args, hostIndex int) (iFirst, iLast uint32, err error) {
	// 1-origin so remaining <= SockCoreRepCount[k] exactly when our node
	// falls in entry k.
	remaining := uint32(hostIndex) + 1

	for k := 0; remaining > 0; k++ {
		if k >= len(arg.SockCoreRepCount) ||
			k >= len(arg.SocketsPerNode) ||
			k >= len(arg.CoresPerSocket) {
			return 0, 0, fmt.Errorf("cred: socket/core shape arrays do not cover host index %d", hostIndex)
		}
		nodeCores := uint32(arg.SocketsPerNode[k]) * uint32(arg.CoresPerSocket[k])
		if remaining > arg.SockCoreRepCount[k] {
			iFirst += nodeCores * arg.SockCoreRepCount[k]
			remaining -= arg.SockCoreRepCount[k]
		} else {
			iFirst += nodeCores * (remaining - 1)
			iLast = iFirst + nodeCores
			break
		}
	}

	return iFirst, iLast, nil
}

// Mem returns the node's job and step memory limits from the credential.
func (m *Manager) Mem(cred *Credential, nodeName string) (jobMem, stepMem uint64) {
	arg := cred.Args()
	defer cred.Unlock()

	return m.memLimits(arg, nodeName)
}

func (m *Manager) memLimits(arg *Args, nodeName string) (jobMem, stepMem uint64) {
	repIdx := -1
	nodeID := -1

	// Batch steps only have the job hostlist set and always resolve to the
	// first rep entry.
	if arg.StepID.IsBatch() {
		repIdx = 0
	} else if nodeID = hostlist.Find(arg.JobHostlist, nodeName); nodeID >= 0 {
		repIdx = RepCountIndex(arg.JobMemAllocRepCount, nodeID)
	} else {
		m.logger.Error("unable to find node in job hostlist",
			zap.String("node", nodeName),
			zap.String("hostlist", arg.JobHostlist))
	}

	if repIdx < 0 || repIdx >= len(arg.JobMemAlloc) {
		m.logger.Error("node not covered by job memory rep counts",
			zap.Int("node_id", nodeID))
	} else {
		jobMem = arg.JobMemAlloc[repIdx]
	}

	if arg.StepMemAlloc != nil {
		repIdx = -1
		if nodeID = hostlist.Find(arg.StepHostlist, nodeName); nodeID >= 0 {
			repIdx = RepCountIndex(arg.StepMemAllocRepCount, nodeID)
		} else {
			m.logger.Error("unable to find node in step hostlist",
				zap.String("node", nodeName),
				zap.String("hostlist", arg.StepHostlist))
		}
		if repIdx < 0 || repIdx >= len(arg.StepMemAlloc) {
			m.logger.Error("node not covered by step memory rep counts",
				zap.Int("node_id", nodeID))
		} else {
			stepMem = arg.StepMemAlloc[repIdx]
		}
	}

	// Zero means the step inherits the job limit.
	if stepMem == 0 {
		stepMem = jobMem
	}

	return jobMem, stepMem
}

// GRES returns the job and step generic-resource state for a single node.
// Nil lists in the credential yield nil lists without error.
func (m *Manager) GRES(cred *Credential, nodeName string) (jobList, stepList gres.List, err error) {
	arg := cred.Args()
	defer cred.Unlock()

	if arg.JobGresList == nil && arg.StepGresList == nil {
		return nil, nil, nil
	}

	hset, err := hostlist.Parse(arg.JobHostlist)
	if err != nil {
		m.logger.Error("unable to parse job hostlist",
			zap.String("hostlist", arg.JobHostlist),
			zap.Error(err))
		return nil, nil, err
	}

	hostIndex := hset.Find(nodeName)
	if hostIndex < 0 || hostIndex >= int(arg.JobNHosts) {
		m.logger.Error("host not in credential hostlist",
			zap.String("node", nodeName),
			zap.String("hostlist", arg.JobHostlist),
			zap.Uint32("job_id", arg.StepID.JobID))
		return nil, nil, fmt.Errorf("cred: host %s not in job hostlist %s", nodeName, arg.JobHostlist)
	}

	return gres.JobStateExtract(arg.JobGresList, hostIndex),
		gres.StepStateExtract(arg.StepGresList, hostIndex), nil
}

// formatCoreRanges renders set bits as a comma-separated range list with
// no surrounding brackets, e.g. "0-2,7,12-14".
func formatCoreRanges(bm *bitset.BitSet) string {
	var sb strings.Builder

	for i, ok := bm.NextSet(0); ok; {
		j := i
		for {
			n, more := bm.NextSet(j + 1)
			if !more || n != j+1 {
				break
			}
			j = n
		}

		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(i), 10))
		if j > i {
			sb.WriteByte('-')
			sb.WriteString(strconv.FormatUint(uint64(j), 10))
		}

		i, ok = bm.NextSet(j + 1)
	}

	return sb.String()
}
