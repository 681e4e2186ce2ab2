// Package proximity keeps a subscriber's room membership synchronized with
// its spatial interest region, and publishes vendor position changes to the
// vendors' rooms.
//
// Membership is always pulled by the subscriber side: a user's Synchronize
// call diffs its current rooms against the vendors inside its bounds and
// applies minimal join/leave operations. Vendors never push membership; they
// only publish absolute positions.
package proximity

import (
	"context"
	"sort"

	"github.com/vendloc/vendloc/internal/geo"
	"github.com/vendloc/vendloc/internal/geoindex"
	"github.com/vendloc/vendloc/internal/registry"
)

// Wire event names emitted through the transport.
const (
	// EventVendorLocationChanged carries a vendor's absolute position to its
	// room after a publish.
	EventVendorLocationChanged = "vendor_location_changed"
)

// VendorLocation is the broadcast payload for a vendor position change. It
// carries the absolute position, never a delta, so redelivery or reordering
// cannot corrupt subscriber state.
type VendorLocation struct {
	ID       string    `json:"id"`
	Location geo.Point `json:"location"`
}

// Transport is the narrow slice of the connection layer the synchronizer
// drives: room joins and leaves for one connection, and room broadcasts.
type Transport interface {
	Join(connectionID, roomID string) error
	Leave(connectionID, roomID string) error
	EmitToRoom(roomID, event string, payload any)
}

// Result reports the membership delta of one Synchronize call, plus the full
// counterpart roster for the caller to forward to the subscriber. Joined and
// Left are advisory: a crash mid-application can make them stale, but the
// roster and broadcast payloads always carry absolute state.
type Result struct {
	Roster []geoindex.Vendor
	Joined []string
	Left   []string
}

// Synchronizer applies proximity-driven membership diffs.
type Synchronizer struct {
	registry  *registry.Registry
	index     geoindex.Index
	transport Transport
}

// New creates a synchronizer over the registry, geo index, and transport.
func New(reg *registry.Registry, index geoindex.Index, transport Transport) *Synchronizer {
	return &Synchronizer{
		registry:  reg,
		index:     index,
		transport: transport,
	}
}

// Synchronize diffs userID's current rooms against the vendors inside
// bounds and applies the minimal join/leave set, leaves first. Bounds are
// validated before any side effect. Per-update work is bounded by the size
// of the diff, not the candidate set.
func (s *Synchronizer) Synchronize(ctx context.Context, userID, connectionID string, bounds geo.Bounds) (Result, error) {
	if err := bounds.Validate(); err != nil {
		return Result{}, err
	}

	candidates, err := s.index.QueryBounds(ctx, bounds)
	if err != nil {
		return Result{}, err
	}
	candidateSet := make(map[string]struct{}, len(candidates))
	for _, vendor := range candidates {
		candidateSet[vendor.ID] = struct{}{}
	}

	currentRooms, err := s.registry.Rooms(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	currentSet := make(map[string]struct{}, len(currentRooms))
	for _, roomID := range currentRooms {
		currentSet[roomID] = struct{}{}
	}

	result := Result{Roster: candidates}
	for _, roomID := range currentRooms {
		if _, still := candidateSet[roomID]; still {
			continue
		}
		if err := s.transport.Leave(connectionID, roomID); err != nil {
			return result, err
		}
		if err := s.registry.RecordRoomLeave(ctx, userID, roomID); err != nil {
			return result, err
		}
		result.Left = append(result.Left, roomID)
	}
	for _, vendor := range candidates {
		if _, already := currentSet[vendor.ID]; already {
			continue
		}
		if err := s.transport.Join(connectionID, vendor.ID); err != nil {
			return result, err
		}
		if err := s.registry.RecordRoomJoin(ctx, userID, vendor.ID); err != nil {
			return result, err
		}
		result.Joined = append(result.Joined, vendor.ID)
	}

	sort.Strings(result.Joined)
	sort.Strings(result.Left)
	return result, nil
}

// PublishVendorLocation upserts the vendor's position into the index, then
// broadcasts the absolute position to the vendor's room.
func (s *Synchronizer) PublishVendorLocation(ctx context.Context, vendorID string, position geo.Point) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, vendorID, position); err != nil {
		return err
	}
	s.transport.EmitToRoom(vendorID, EventVendorLocationChanged, VendorLocation{
		ID:       vendorID,
		Location: position,
	})
	return nil
}
