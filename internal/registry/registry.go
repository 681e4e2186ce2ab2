// Package registry maintains the bidirectional connection-entity bindings and
// the room membership bookkeeping, backed by the shared store.
//
// The registry itself is stateless: all of its state lives in the store, so
// any gateway instance can register, resolve, or clean up any connection.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
	"github.com/vendloc/vendloc/internal/store"
)

// Kind discriminates the two participant kinds.
type Kind string

const (
	// KindUser is a subscribing participant.
	KindUser Kind = "user"
	// KindVendor is a broadcasting participant whose entity id doubles as
	// its room id.
	KindVendor Kind = "vendor"
)

// ParseKind normalizes a wire-level kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser:
		return KindUser, nil
	case KindVendor:
		return KindVendor, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeEntityKindInvalid, "unknown entity kind", map[string]string{"kind": s})
	}
}

// Store key prefixes. SubscriberKeyPrefix is exported for the reconciliation
// pass, which scans subscriber sets directly.
const (
	connKeyPrefix       = "conn:"
	entityKeyPrefix     = "entity:"
	roomsKeyPrefix      = "rooms:"
	SubscriberKeyPrefix = "subs:"
)

func connKey(connectionID string) string { return connKeyPrefix + connectionID }
func entityKey(entityID string) string   { return entityKeyPrefix + entityID }
func roomsKey(entityID string) string    { return roomsKeyPrefix + entityID }

// SubscriberKey returns the store key for a room's subscriber set.
func SubscriberKey(roomID string) string { return SubscriberKeyPrefix + roomID }

// ErrUnknownConnection reports a lookup miss for a connection id.
var ErrUnknownConnection = apperrors.New(apperrors.CodeUnknownConnection, "connection is not registered")

// ErrUnknownEntity reports a lookup miss for an entity id.
var ErrUnknownEntity = apperrors.New(apperrors.CodeUnknownEntity, "entity has no live connection")

// Connection is the registered record for one live connection.
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	Kind         Kind      `json:"kind"`
	EntityID     string    `json:"entity_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// CleanupResult reports what a cleanup released: the rooms the entity was
// subscribed to, and for a vendor the user entities subscribed to its room,
// so the caller can broadcast an offline status.
type CleanupResult struct {
	Rooms       []string
	Subscribers []string
}

// Registry is the store-backed connection registry.
type Registry struct {
	store store.Store
	now   func() time.Time
}

// New creates a registry on the given store client.
func New(st store.Store) *Registry {
	return &Registry{store: st, now: time.Now}
}

// Register binds a connection to an entity, last-write-wins over any prior
// binding for the entity. Superseding a prior binding also releases the
// entity's room bookkeeping: the superseded connection's own cleanup will
// no-op once its record is gone, and the fresh connection must start with no
// rooms. The stale connection record itself is deleted on a best-effort
// basis; a failure there leaves a record the cleanup path already tolerates.
// The superseded connection id, if any, is returned so the transport can
// drop the stale peer.
func (r *Registry) Register(ctx context.Context, kind Kind, connectionID, entityID string) (superseded string, err error) {
	if connectionID == "" || entityID == "" {
		return "", apperrors.New(apperrors.CodeEntityIDEmpty, "connection id and entity id are required")
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}

	previous, err := r.store.Get(ctx, entityKey(entityID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "read prior entity binding", err)
	}
	if err == nil && previous != connectionID {
		superseded = previous
		if delErr := r.store.Delete(ctx, connKey(previous)); delErr != nil {
			log.Printf("registry: best-effort delete of stale connection %q for entity %q: %v", previous, entityID, delErr)
		}
		if _, err := r.releaseMembership(ctx, entityID); err != nil {
			return "", err
		}
	}

	record, err := json.Marshal(Connection{
		ConnectionID: connectionID,
		Kind:         kind,
		EntityID:     entityID,
		ConnectedAt:  r.now().UTC(),
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "encode connection record", err)
	}
	if err := r.store.Set(ctx, connKey(connectionID), string(record), 0); err != nil {
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "write connection record", err)
	}
	if err := r.store.Set(ctx, entityKey(entityID), connectionID, 0); err != nil {
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "write entity binding", err)
	}
	return superseded, nil
}

// releaseMembership removes entityID from every subscribed room's subscriber
// set and deletes its room set, returning the rooms that were held.
func (r *Registry) releaseMembership(ctx context.Context, entityID string) ([]string, error) {
	rooms, err := r.store.SetMembers(ctx, roomsKey(entityID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read room membership", err)
	}
	for _, roomID := range rooms {
		if err := r.store.SetRemove(ctx, SubscriberKey(roomID), entityID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "remove room subscriber", err)
		}
	}
	if err := r.store.Delete(ctx, roomsKey(entityID)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "delete room membership", err)
	}
	return rooms, nil
}

// EntityForConnection resolves the connection record bound to connectionID.
func (r *Registry) EntityForConnection(ctx context.Context, connectionID string) (Connection, error) {
	raw, err := r.store.Get(ctx, connKey(connectionID))
	if errors.Is(err, store.ErrNotFound) {
		return Connection{}, ErrUnknownConnection
	}
	if err != nil {
		return Connection{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read connection record", err)
	}

	var record Connection
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Connection{}, apperrors.Wrap(apperrors.CodeUnknown, "decode connection record", err)
	}
	return record, nil
}

// ConnectionForEntity resolves the live connection id for an entity.
func (r *Registry) ConnectionForEntity(ctx context.Context, entityID string) (string, error) {
	connectionID, err := r.store.Get(ctx, entityKey(entityID))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnknownEntity
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStoreUnavailable, "read entity binding", err)
	}
	return connectionID, nil
}

// RecordRoomJoin records entity membership in a room, on both the entity's
// room set and the room's subscriber set.
func (r *Registry) RecordRoomJoin(ctx context.Context, entityID, roomID string) error {
	if err := r.store.SetAdd(ctx, roomsKey(entityID), roomID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "record room join", err)
	}
	if err := r.store.SetAdd(ctx, SubscriberKey(roomID), entityID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "record room subscriber", err)
	}
	return nil
}

// RecordRoomLeave removes entity membership from a room.
func (r *Registry) RecordRoomLeave(ctx context.Context, entityID, roomID string) error {
	if err := r.store.SetRemove(ctx, roomsKey(entityID), roomID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "record room leave", err)
	}
	if err := r.store.SetRemove(ctx, SubscriberKey(roomID), entityID); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "remove room subscriber", err)
	}
	return nil
}

// Subscribers returns the user entities currently subscribed to a room.
func (r *Registry) Subscribers(ctx context.Context, roomID string) ([]string, error) {
	subscribers, err := r.store.SetMembers(ctx, SubscriberKey(roomID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read room subscribers", err)
	}
	return subscribers, nil
}

// Rooms returns the set of rooms the entity is currently joined to.
func (r *Registry) Rooms(ctx context.Context, entityID string) ([]string, error) {
	rooms, err := r.store.SetMembers(ctx, roomsKey(entityID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read room membership", err)
	}
	return rooms, nil
}

// Cleanup releases everything bound to connectionID. An unknown connection,
// including a connect that never completed registration, is a logged no-op
// with an empty result. Deletions are ordered bindings-first so a mid-failure
// crash leaves at worst an orphaned membership entry for the reconciliation
// pass to reclaim.
func (r *Registry) Cleanup(ctx context.Context, connectionID string) (CleanupResult, error) {
	record, err := r.EntityForConnection(ctx, connectionID)
	if errors.Is(err, ErrUnknownConnection) {
		log.Printf("registry: cleanup of unknown connection %q", connectionID)
		return CleanupResult{}, nil
	}
	if err != nil {
		return CleanupResult{}, err
	}

	// The entity binding may already point at a newer connection after a
	// last-write-wins reconnect; leave it alone in that case.
	bound, err := r.store.Get(ctx, entityKey(record.EntityID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return CleanupResult{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read entity binding", err)
	}
	if err == nil && bound == connectionID {
		if err := r.store.Delete(ctx, entityKey(record.EntityID)); err != nil {
			return CleanupResult{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "delete entity binding", err)
		}
	}
	if err := r.store.Delete(ctx, connKey(connectionID)); err != nil {
		return CleanupResult{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "delete connection record", err)
	}

	result := CleanupResult{}
	switch record.Kind {
	case KindUser:
		rooms, err := r.releaseMembership(ctx, record.EntityID)
		if err != nil {
			return CleanupResult{}, err
		}
		result.Rooms = rooms
	case KindVendor:
		subscribers, err := r.store.SetMembers(ctx, SubscriberKey(record.EntityID))
		if err != nil {
			return CleanupResult{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "read room subscribers", err)
		}
		result.Subscribers = subscribers
	}
	return result, nil
}
