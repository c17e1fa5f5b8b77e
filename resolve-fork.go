package argateway

import (
	"github.com/everFinance/goar/types"
	"github.com/permadata-network/argateway/schema"
)

const DefaultMaxForkDepth = 100

type blockFetch func(id string) (*types.Block, error)

// resolveFork walks ancestors of newBlock until it reconnects with a
// block we already hold, returning the branch oldest first so the
// caller can persist it in one pass. knownIds is the recent chain
// window keyed by indep hash. The walk gives up past maxDepth; a branch
// that deep means the window itself is stale and a resync is cheaper
// than chasing it.
func resolveFork(newBlock *types.Block, knownIds map[string]bool, maxDepth int, fetch blockFetch) ([]*types.Block, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxForkDepth
	}
	fork := []*types.Block{newBlock}
	for {
		oldest := fork[0]
		if oldest.Height == 0 {
			// walked to genesis
			return fork, nil
		}
		if knownIds[oldest.PreviousBlock] {
			return fork, nil
		}
		if len(fork) >= maxDepth {
			log.Error("fork depth exceeded", "newBlock", newBlock.IndepHash, "height", newBlock.Height, "maxDepth", maxDepth)
			return nil, schema.ErrForkUnresolved
		}
		parent, err := fetch(oldest.PreviousBlock)
		if err != nil {
			return nil, err
		}
		fork = append([]*types.Block{parent}, fork...)
	}
}
