package orchestrator

import (
	"context"
	"fmt"

	"github.com/mbhatt1/hive-sub000/internal/mission"
	"github.com/mbhatt1/hive-sub000/internal/types"
	"github.com/mbhatt1/hive-sub000/internal/workflow"
)

// KeyAgreement is the mission context key an external negotiation process
// writes its verdict to, e.g. {"agreed": true, "findings": [...]}.
const KeyAgreement = "agreement"

// ConsensusPoller waits for the Synthesizer and Critic to agree. It reads the
// agreement recorded in the mission store; when none arrives before the wait
// times out, the Critic's verdict wins and the result is marked as not agreed.
type ConsensusPoller struct {
	store mission.Store
}

// NewConsensusPoller creates a poller reading agreements from store.
func NewConsensusPoller(store mission.Store) *ConsensusPoller {
	return &ConsensusPoller{store: store}
}

// Poll implements workflow.Poller.
func (p *ConsensusPoller) Poll(ctx context.Context, doc workflow.Document) (any, bool, error) {
	m, err := p.store.Get(ctx, types.ID(doc.MissionID()))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read agreement: %w", err)
	}

	agreement, ok := m.Context[KeyAgreement].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	if agreed, _ := agreement["agreed"].(bool); !agreed {
		return nil, false, nil
	}

	out := make(map[string]any, len(agreement)+1)
	for k, v := range agreement {
		out[k] = v
	}
	out["resolution"] = "agreement"
	return out, true, nil
}

// OnPollTimeout implements workflow.TimeoutResolver with the Critic tie-break.
func (p *ConsensusPoller) OnPollTimeout(_ context.Context, doc workflow.Document) (any, error) {
	verdict, _ := doc.Get(jsonPath(KeySynthesisResults + "[1]"))
	return map[string]any{
		"agreed":     false,
		"resolution": "critic",
		"verdict":    verdict,
	}, nil
}
