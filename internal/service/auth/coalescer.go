package auth

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/hysteria-id/hysteria/internal/models"
)

// Coalescer collapses concurrent rotation attempts for one bearer value
// into a single Rotate call. Requests racing on the same presented
// value subscribe to the in-flight rotation and all receive its result,
// success or failure alike. The gate is keyed per bearer hash and
// reopens once the shared call completes, so a later invalidation can
// trigger a new rotation.
//
// Without this, the system's own concurrent requests would trip the
// single-use reuse detection in the Rotator.
type Coalescer struct {
	group  singleflight.Group
	rotate func(ctx context.Context, presented string) (models.TokenPair, error)
}

func NewCoalescer(rotate func(ctx context.Context, presented string) (models.TokenPair, error)) *Coalescer {
	return &Coalescer{rotate: rotate}
}

func (c *Coalescer) EnsureRefreshed(ctx context.Context, presented string) (models.TokenPair, error) {
	v, err, _ := c.group.Do(HashToken(presented), func() (any, error) {
		// The rotation outcome is shared by every waiter, so it must
		// not die with the first caller's request context
		return c.rotate(context.WithoutCancel(ctx), presented)
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return v.(models.TokenPair), nil
}
