package registry

import (
	"context"
	"errors"
	"strings"
)

// ReconcileSubscriptions removes subscriber-set members whose entity binding
// no longer resolves, together with the paired room-set entry. Orphans appear
// when a crash lands between a binding deletion and its membership deletion;
// new traffic never depends on this pass.
func (r *Registry) ReconcileSubscriptions(ctx context.Context) (removed int, err error) {
	keys, err := r.store.Scan(ctx, SubscriberKeyPrefix)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		roomID := strings.TrimPrefix(key, SubscriberKeyPrefix)
		members, err := r.store.SetMembers(ctx, key)
		if err != nil {
			return removed, err
		}
		for _, entityID := range members {
			_, lookupErr := r.ConnectionForEntity(ctx, entityID)
			if lookupErr == nil {
				continue
			}
			if !errors.Is(lookupErr, ErrUnknownEntity) {
				return removed, lookupErr
			}
			if err := r.store.SetRemove(ctx, key, entityID); err != nil {
				return removed, err
			}
			if err := r.store.SetRemove(ctx, roomsKey(entityID), roomID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
