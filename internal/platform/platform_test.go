package platform

import (
	"testing"

	"github.com/cuemby/zoe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneNodeCluster(memTotal int64, coresTotal float64) *domain.ClusterStats {
	return &domain.ClusterStats{
		Nodes: []*domain.NodeStats{
			{Name: "n1", MemoryTotal: memTotal, CoresTotal: coresTotal},
		},
	}
}

func essentialService(id string, memMin, coresMin int64) *domain.Service {
	return &domain.Service{
		ID:        id,
		Essential: true,
		ResourceReservation: domain.ResourceReservation{
			Cores:  domain.ResourceRange{Min: coresMin},
			Memory: domain.ResourceRange{Min: memMin},
		},
	}
}

func elasticService(id string, memMin, coresMin int64) *domain.Service {
	s := essentialService(id, memMin, coresMin)
	s.Essential = false
	return s
}

func TestAllocateEssentialSimplePlacement(t *testing.T) {
	stats := oneNodeCluster(8*1024*1024*1024, 4)
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		essentialService("s1", 2*1024*1024*1024, 1),
	})

	ok := p.AllocateEssential(e)
	require.True(t, ok)

	alloc := p.GetServiceAllocation()
	assert.Equal(t, "n1", alloc["s1"])
}

func TestAllocateEssentialAllOrNothing(t *testing.T) {
	stats := oneNodeCluster(4*1024*1024*1024, 4)
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		essentialService("s1", 2*1024*1024*1024, 1),
		essentialService("s2", 8*1024*1024*1024, 1), // does not fit anywhere
	})

	before := p.AggregatedFreeMemory()
	ok := p.AllocateEssential(e)
	assert.False(t, ok)
	assert.Equal(t, before, p.AggregatedFreeMemory(), "failed allocation must not change free memory")
	assert.Empty(t, p.GetServiceAllocation())
}

func TestAllocateElasticSkipsServicesThatDontFit(t *testing.T) {
	stats := oneNodeCluster(2*1024*1024*1024, 4)
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		elasticService("s1", 8*1024*1024*1024, 1),
	})

	p.AllocateElastic(e)
	assert.Empty(t, p.GetServiceAllocation())
}

func TestAllocateElasticIsIdempotent(t *testing.T) {
	stats := oneNodeCluster(8*1024*1024*1024, 4)
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		elasticService("s1", 1*1024*1024*1024, 1),
	})

	p.AllocateElastic(e)
	free1 := p.AggregatedFreeMemory()
	p.AllocateElastic(e) // second call: no-op on already-placed service
	free2 := p.AggregatedFreeMemory()

	assert.Equal(t, free1, free2)
}

func TestDeallocateElasticRestoresMemoryExactly(t *testing.T) {
	stats := oneNodeCluster(8*1024*1024*1024, 4)
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		elasticService("s1", 1*1024*1024*1024, 1),
	})

	before := p.AggregatedFreeMemory()
	p.AllocateElastic(e)
	p.DeallocateElastic(e)
	after := p.AggregatedFreeMemory()

	assert.Equal(t, before, after)
	assert.Empty(t, p.GetServiceAllocation())
}

func TestBestFitPrefersSmallestResidual(t *testing.T) {
	stats := &domain.ClusterStats{
		Nodes: []*domain.NodeStats{
			{Name: "big", MemoryTotal: 16 * 1024 * 1024 * 1024},
			{Name: "small", MemoryTotal: 4 * 1024 * 1024 * 1024},
		},
	}
	p := New(stats.Clone())

	e := domain.NewExecution("e1", "e1", "u", []*domain.Service{
		essentialService("s1", 2*1024*1024*1024, 1),
	})
	require.True(t, p.AllocateEssential(e))

	assert.Equal(t, "small", p.GetServiceAllocation()["s1"])
}
