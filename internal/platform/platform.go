// Package platform implements the what-if allocator: an in-memory model of
// a cluster snapshot the scheduler mutates while deciding placements,
// without ever touching the real backend.
package platform

import (
	"github.com/cuemby/zoe/internal/domain"
)

// SimulatedPlatform is a mutable deep copy of a ClusterStats snapshot. It
// never calls the backend; it only models what placements would fit.
type SimulatedPlatform struct {
	stats *domain.ClusterStats

	// placements records, per placed service id, which node it landed on
	// and how much it reserved there, so unplace can reverse the
	// reservation without depending on the node's Services list (which
	// reflects the backend's last-known state, not the simulator's own
	// trial placements).
	placements map[string]placementRecord

	// elasticByExecution tracks, per execution id, which service ids were
	// placed as elastic by this simulator, so DeallocateElastic can
	// unwind them.
	elasticByExecution map[string][]string
}

type placementRecord struct {
	node       *domain.NodeStats
	memMin     int64
	coresMin   int64
}

// New builds a SimulatedPlatform from a cluster snapshot. The caller must
// pass an already-cloned snapshot (see domain.ClusterStats.Clone); New does
// not clone defensively, matching the scheduler's single point of cloning.
func New(stats *domain.ClusterStats) *SimulatedPlatform {
	return &SimulatedPlatform{
		stats:              stats,
		placements:         make(map[string]placementRecord),
		elasticByExecution: make(map[string][]string),
	}
}

// AllocateEssential attempts to place every essential service of e.
// All-or-nothing: if any essential service cannot fit anywhere, every
// trial placement made for this call is rolled back and false is returned.
func (p *SimulatedPlatform) AllocateEssential(e *domain.Execution) bool {
	essential := e.EssentialServices()
	placed := make([]string, 0, len(essential))

	for _, s := range essential {
		node := p.bestFitNode(s.ResourceReservation.Memory.Min)
		if node == nil {
			for _, sid := range placed {
				p.unplace(sid)
			}
			return false
		}
		p.place(node, s)
		placed = append(placed, s.ID)
	}
	return true
}

// AllocateElastic greedily places each elastic service of e that fits.
// Services that don't fit are skipped, not rolled back. Idempotent: a
// service already placed by this simulator is left alone.
func (p *SimulatedPlatform) AllocateElastic(e *domain.Execution) {
	for _, s := range e.ElasticServices() {
		if _, already := p.placements[s.ID]; already {
			continue
		}
		node := p.bestFitNode(s.ResourceReservation.Memory.Min)
		if node == nil {
			continue
		}
		p.place(node, s)
		p.elasticByExecution[e.ID] = append(p.elasticByExecution[e.ID], s.ID)
	}
}

// DeallocateElastic removes all elastic placements this simulator made for
// e, restoring the memory it had reserved.
func (p *SimulatedPlatform) DeallocateElastic(e *domain.Execution) {
	for _, sid := range p.elasticByExecution[e.ID] {
		p.unplace(sid)
	}
	delete(p.elasticByExecution, e.ID)
}

// AggregatedFreeMemory sums memory_total - memory_reserved across every
// node in the simulated snapshot.
func (p *SimulatedPlatform) AggregatedFreeMemory() int64 {
	var total int64
	for _, n := range p.stats.Nodes {
		total += n.MemoryFree()
	}
	return total
}

// GetServiceAllocation returns the committed placements (essential and
// elastic) as service id -> node name.
func (p *SimulatedPlatform) GetServiceAllocation() map[string]string {
	out := make(map[string]string, len(p.placements))
	for k, v := range p.placements {
		out[k] = v.node.Name
	}
	return out
}

// bestFitNode returns the node with the smallest residual memory that can
// still satisfy memMin, tie-broken by node name ascending. Returns nil if
// no node fits.
func (p *SimulatedPlatform) bestFitNode(memMin int64) *domain.NodeStats {
	var best *domain.NodeStats
	for _, n := range p.stats.Nodes {
		if n.MemoryFree() < memMin {
			continue
		}
		if best == nil {
			best = n
			continue
		}
		if n.MemoryFree() < best.MemoryFree() {
			best = n
		} else if n.MemoryFree() == best.MemoryFree() && n.Name < best.Name {
			best = n
		}
	}
	return best
}

func (p *SimulatedPlatform) place(node *domain.NodeStats, s *domain.Service) {
	node.MemoryReserved += s.ResourceReservation.Memory.Min
	node.CoresReserved += float64(s.ResourceReservation.Cores.Min)
	p.placements[s.ID] = placementRecord{
		node:     node,
		memMin:   s.ResourceReservation.Memory.Min,
		coresMin: s.ResourceReservation.Cores.Min,
	}
}

func (p *SimulatedPlatform) unplace(serviceID string) {
	rec, ok := p.placements[serviceID]
	if !ok {
		return
	}
	rec.node.MemoryReserved -= rec.memMin
	rec.node.CoresReserved -= float64(rec.coresMin)
	delete(p.placements, serviceID)
}

