package server

import (
	"encoding/json"
	"sync"

	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// connectionHub tracks this instance's live peers and their transport-level
// room membership. It is the in-process implementation of the transport
// contract the synchronizer drives: join, leave, and room broadcast.
type connectionHub struct {
	mu    sync.Mutex
	peers map[string]*wsPeer
	rooms map[string]map[string]*wsPeer
}

func newConnectionHub() *connectionHub {
	return &connectionHub{
		peers: make(map[string]*wsPeer),
		rooms: make(map[string]map[string]*wsPeer),
	}
}

func (h *connectionHub) addPeer(connectionID string, peer *wsPeer) {
	h.mu.Lock()
	h.peers[connectionID] = peer
	h.mu.Unlock()
}

// removePeer drops the peer and leaves every room it was joined to.
func (h *connectionHub) removePeer(connectionID string) {
	h.mu.Lock()
	delete(h.peers, connectionID)
	for roomID, members := range h.rooms {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Join adds the connection to a room.
func (h *connectionHub) Join(connectionID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer, ok := h.peers[connectionID]
	if !ok {
		return apperrors.New(apperrors.CodeUnknownConnection, "join on unknown connection")
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*wsPeer)
		h.rooms[roomID] = members
	}
	members[connectionID] = peer
	return nil
}

// Leave removes the connection from a room. Leaving a room the connection is
// not in is a no-op.
func (h *connectionHub) Leave(connectionID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connectionID]; !ok {
		return apperrors.New(apperrors.CodeUnknownConnection, "leave on unknown connection")
	}
	members, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	return nil
}

// EmitToRoom broadcasts an event to every current member of a room. Delivery
// is best effort; a slow or dead peer never affects the others.
func (h *connectionHub) EmitToRoom(roomID, event string, payload any) {
	h.mu.Lock()
	members := make([]*wsPeer, 0, len(h.rooms[roomID]))
	for _, peer := range h.rooms[roomID] {
		members = append(members, peer)
	}
	h.mu.Unlock()

	frame := wsFrame{Type: event, Payload: mustJSON(payload)}
	for _, peer := range members {
		_ = peer.writeFrame(frame)
	}
}

// EmitToConn delivers an event to a single connection.
func (h *connectionHub) EmitToConn(connectionID, event string, payload any) error {
	h.mu.Lock()
	peer, ok := h.peers[connectionID]
	h.mu.Unlock()

	if !ok {
		return apperrors.New(apperrors.CodeUnknownConnection, "emit on unknown connection")
	}
	return peer.writeFrame(wsFrame{Type: event, Payload: mustJSON(payload)})
}
