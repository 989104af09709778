package batcher

import (
	"sort"

	"github.com/chronosdb/chronosdb/optype"
	"github.com/chronosdb/chronosdb/tablet"
)

// group is a maximal contiguous run of ops_queue sharing (tablet, class);
// begin/end are indices into the ops_queue slice it was computed from,
// [begin, end). needMetadata is filled in by setNeedMetadata once the full
// group slice for a flush is known.
type group struct {
	tablet       *tablet.Tablet
	class        optype.Class
	begin        int
	end          int
	needMetadata bool
}

func (g group) size() int { return g.end - g.begin }

// groupOps sorts queue in place by (tablet, operation class, sequence
// number) and partitions the result into maximal contiguous groups sharing
// (tablet, class). The sort key doubles as the intra-group order: within a
// group, ops come out in non-decreasing sequence-number order, which is
// submission order.
//
// Re-running groupOps on an already-sorted, already-partitioned queue is a
// fixed point: the sort is stable and the group boundaries depend only on
// (tablet, class) equality.
func groupOps(queue []*InFlightOp) []group {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		at, bt := a.Tablet().ID, b.Tablet().ID
		if at != bt {
			return at < bt
		}
		if a.Op.Class() != b.Op.Class() {
			return a.Op.Class() < b.Op.Class()
		}
		return a.SequenceNumber < b.SequenceNumber
	})

	var groups []group
	i := 0
	for i < len(queue) {
		j := i + 1
		for j < len(queue) &&
			queue[j].Tablet().ID == queue[i].Tablet().ID &&
			queue[j].Op.Class() == queue[i].Op.Class() {
			j++
		}
		groups = append(groups, group{
			tablet: queue[i].Tablet(),
			class:  queue[i].Op.Class(),
			begin:  i,
			end:    j,
		})
		i = j
	}
	return groups
}

// setNeedMetadata fills in every group's needMetadata per the rule a
// transactional flush needs its groups' RPCs to carry enough metadata for
// the coordinator: the caller forced a consistent read, a transaction is
// present, or there is more than one group. The fact is batch-wide, not
// per-group, but it belongs to the Grouper's output rather than a constant
// the dispatcher invents.
func setNeedMetadata(groups []group, forceConsistentRead, hasTransaction bool) {
	need := forceConsistentRead || hasTransaction || len(groups) > 1
	for i := range groups {
		groups[i].needMetadata = need
	}
}
