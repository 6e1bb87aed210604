package queue

import (
	"fmt"
	"sort"

	"github.com/cuemby/zoe/internal/domain"
)

// DecayRate is the DYNSIZE aging rate in bytes/second (256 MiB/s).
const DecayRate int64 = 256 * 1024 * 1024

// Policy orders a pending queue before each placement round. It replaces
// the duck-typed string comparison of the original scheduler with a tagged
// variant: the concrete type is chosen once, at construction, never by a
// string switch sprinkled through the scheduling loop.
type Policy interface {
	Name() string
	// Prepare is called once per round before Sort, with the current
	// wall-clock time in Unix seconds (nowSeconds, not a monotonic clock)
	// for DYNSIZE aging.
	Prepare(pending []*domain.Execution, nowSeconds int64)
	// Sort orders pending in place according to the policy.
	Sort(pending []*domain.Execution)
}

// NewPolicy constructs a Policy by name. An unrecognized name is a
// construction-time error, never a silent fallback.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "fifo", "":
		return fifoPolicy{}, nil
	case "size":
		return sizePolicy{}, nil
	case "dynsize":
		return dynsizePolicy{}, nil
	default:
		return nil, fmt.Errorf("queue: unsupported policy %q", name)
	}
}

type fifoPolicy struct{}

func (fifoPolicy) Name() string { return "fifo" }

func (fifoPolicy) Prepare([]*domain.Execution, int64) {}

func (fifoPolicy) Sort([]*domain.Execution) {
	// Insertion order is already preserved by the slice; nothing to do.
}

type sizePolicy struct{}

func (sizePolicy) Name() string { return "size" }

func (sizePolicy) Prepare([]*domain.Execution, int64) {}

func (sizePolicy) Sort(pending []*domain.Execution) {
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Size < pending[j].Size
	})
}

type dynsizePolicy struct{}

func (dynsizePolicy) Name() string { return "dynsize" }

// Prepare decays each execution's Size by elapsed-time * DecayRate since it
// was last considered, resetting to the execution's floor (total cores.min
// times total memory.min over its services, see sizeFloor) whenever the
// decay would take it to zero or below.
func (dynsizePolicy) Prepare(pending []*domain.Execution, nowSeconds int64) {
	for _, e := range pending {
		if e.LastTimeScheduled <= 0 {
			continue
		}
		elapsed := nowSeconds - e.LastTimeScheduled
		if elapsed <= 0 {
			continue
		}
		e.Size -= elapsed * DecayRate
		if e.Size <= 0 {
			e.Size = sizeFloor(e)
		}
	}
}

func (dynsizePolicy) Sort(pending []*domain.Execution) {
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Size < pending[j].Size
	})
}

// sizeFloor computes cores.min * memory.min aggregated over an execution's
// services, the reset value DYNSIZE uses when decay would go non-positive.
func sizeFloor(e *domain.Execution) int64 {
	totals := e.TotalReservations()
	floor := totals.Cores.Min * totals.Memory.Min
	if floor <= 0 {
		floor = 1
	}
	return floor
}
