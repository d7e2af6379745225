package collective

import (
	"context"
	"fmt"
	"sync"
)

// Topology places one rank inside a (possibly multi-)simulation.
type Topology struct {
	// Sim spans the ranks of this rank's simulation.
	Sim Communicator
	// Masters spans the master ranks of all simulations. It is nil on
	// non-master ranks and when only one simulation runs.
	Masters  Communicator
	SimIndex int
	NumSims  int
}

func (t Topology) IsMaster() bool {
	return t.Sim.Rank() == 0
}

func (t Topology) IsMultiSim() bool {
	return t.NumSims > 1
}

// IsMasterSim reports whether this rank belongs to the simulation that
// reports cross-simulation diagnostics.
func (t Topology) IsMasterSim() bool {
	return t.SimIndex == 0
}

// SimGroupName is the group name used for the ranks of simulation index.
func SimGroupName(index int) string {
	return fmt.Sprintf("sim-%d", index)
}

// MastersGroupName is the group of the master ranks of every simulation.
const MastersGroupName = "masters"

// TopologyFor builds the topology of one rank whose groups live on exchanger.
func TopologyFor(exchanger Exchanger, simIndex int, numSims int, rank int, ranksPerSim int) (Topology, error) {
	if numSims < 1 || simIndex < 0 || simIndex >= numSims {
		return Topology{}, fmt.Errorf("%w: simulation %d of %d", ErrInvalidRank, simIndex, numSims)
	}
	sim, err := NewCommunicator(exchanger, SimGroupName(simIndex), rank, ranksPerSim)
	if err != nil {
		return Topology{}, err
	}
	topology := Topology{Sim: sim, SimIndex: simIndex, NumSims: numSims}
	if numSims > 1 && rank == 0 {
		masters, err := NewCommunicator(exchanger, MastersGroupName, simIndex, numSims)
		if err != nil {
			return Topology{}, err
		}
		topology.Masters = masters
	}
	return topology, nil
}

// NewLocalMultiSim returns the topologies of numSims in-process simulations of
// ranksPerSim ranks each, ordered by simulation then rank.
func NewLocalMultiSim(numSims int, ranksPerSim int) ([]Topology, error) {
	hub := NewHub()
	topologies := make([]Topology, 0, numSims*ranksPerSim)
	for simIndex := 0; simIndex < numSims; simIndex++ {
		for rank := 0; rank < ranksPerSim; rank++ {
			topology, err := TopologyFor(hub, simIndex, numSims, rank, ranksPerSim)
			if err != nil {
				return nil, err
			}
			topologies = append(topologies, topology)
		}
	}
	return topologies, nil
}

// RunRanks runs fn once per topology, each on its own goroutine, and returns
// the per-rank errors in topology order. It waits for every rank.
func RunRanks(ctx context.Context, topologies []Topology, fn func(ctx context.Context, topology Topology) error) []error {
	errs := make([]error, len(topologies))
	var group sync.WaitGroup
	for index, topology := range topologies {
		group.Go(func() {
			errs[index] = fn(ctx, topology)
		})
	}
	group.Wait()
	return errs
}
