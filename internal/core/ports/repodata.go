package ports

import (
	"context"

	"github.com/marimeireles/mamba/internal/core/domain"
)

// RepodataLoader produces the validated record set of one channel+platform,
// from cache when possible.
type RepodataLoader interface {
	Load(ctx context.Context, channel domain.Channel) ([]*domain.Record, error)
}
