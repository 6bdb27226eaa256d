package confirm

import (
	"context"

	"github.com/grindlemire/graft"
	"github.com/marimeireles/mamba/internal/core/ports"
)

const NodeID graft.ID = "adapter.confirm"

func init() {
	graft.Register(graft.Node[ports.Confirmer]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Confirmer, error) {
			return New(nil, nil), nil
		},
	})
}
