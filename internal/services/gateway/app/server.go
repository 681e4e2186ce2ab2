package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/vendloc/vendloc/internal/geo"
	"github.com/vendloc/vendloc/internal/geoindex"
	apperrors "github.com/vendloc/vendloc/internal/platform/errors"
	"github.com/vendloc/vendloc/internal/platform/id"
	"github.com/vendloc/vendloc/internal/platform/timeouts"
	"github.com/vendloc/vendloc/internal/proximity"
	"github.com/vendloc/vendloc/internal/ratelimit"
	"github.com/vendloc/vendloc/internal/registry"
	"github.com/vendloc/vendloc/internal/store"
)

const (
	tokenCookieName = "vendloc_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Inbound frame types.
const (
	framePresenceSync    = "presence.sync"
	framePresencePublish = "presence.publish"
	frameVendorStatus    = "vendor.status"
)

// Outbound event names.
const (
	eventVendorChannels      = "vendor_channels"
	eventVendorStatusChanged = "vendor_status_changed"
	eventError               = "error"
)

// Config defines the inputs for the gateway transport boundary.
//
// The store and index clients are injected so the dispatcher stays a pure
// sequencing layer: it owns no cross-instance state of its own.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// ReconcileInterval enables the periodic membership reconciliation pass
	// when positive.
	ReconcileInterval time.Duration

	Store      store.Store
	Index      geoindex.Index
	Authorizer Authorizer
}

// Server hosts the gateway HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	reconcileStop   context.CancelFunc
	reconcileDone   chan struct{}
}

type gatewayDeps struct {
	hub          *connectionHub
	registry     *registry.Registry
	limiter      *ratelimit.Limiter
	synchronizer *proximity.Synchronizer
}

func newGatewayDeps(st store.Store, index geoindex.Index) *gatewayDeps {
	hub := newConnectionHub()
	reg := registry.New(st)
	return &gatewayDeps{
		hub:          hub,
		registry:     reg,
		limiter:      ratelimit.New(st),
		synchronizer: proximity.New(reg, index, hub),
	}
}

type syncPayload struct {
	Bounds geo.Bounds `json:"bounds"`
}

type publishPayload struct {
	Location geo.Point `json:"location"`
}

type vendorStatusQueryPayload struct {
	VendorID string `json:"vendor_id"`
}

type vendorChannel struct {
	ID       string    `json:"id"`
	Location geo.Point `json:"location"`
}

type vendorChannelsPayload struct {
	Vendors []vendorChannel `json:"vendors"`
	Joined  []string        `json:"joined,omitempty"`
	Left    []string        `json:"left,omitempty"`
}

type vendorStatusPayload struct {
	VendorID string `json:"vendor_id"`
	IsOnline bool   `json:"is_online"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsIdentityContextKey struct{}

// NewHandler creates gateway routes with upgrade auth disabled: the identity
// comes from the entity_id and kind query parameters. Tests and offline
// paths only.
func NewHandler(st store.Store, index geoindex.Index) http.Handler {
	return newHandler(newGatewayDeps(st, index), nil, false)
}

// NewHandlerWithAuthorizer creates gateway routes with enforced identity
// checks at upgrade time.
func NewHandlerWithAuthorizer(authorizer Authorizer, st store.Store, index geoindex.Index) http.Handler {
	return newHandler(newGatewayDeps(st, index), authorizer, true)
}

func newHandler(deps *gatewayDeps, authorizer Authorizer, requireAuth bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, deps)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		identity, err := resolveIdentity(r, authorizer, requireAuth)
		if err != nil {
			log.Printf("gateway: websocket unauthorized for host=%q remote=%s: %v", r.Host, r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

func resolveIdentity(r *http.Request, authorizer Authorizer, requireAuth bool) (Identity, error) {
	if !requireAuth {
		entityID := strings.TrimSpace(r.URL.Query().Get("entity_id"))
		if entityID == "" {
			entityID = "participant"
		}
		kind := registry.KindUser
		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			parsed, err := registry.ParseKind(raw)
			if err != nil {
				return Identity{}, err
			}
			kind = parsed
		}
		return Identity{EntityID: entityID, Kind: kind}, nil
	}

	if authorizer == nil {
		return Identity{}, errors.New("websocket auth is not configured")
	}
	token := accessTokenFromRequest(r)
	if token == "" {
		return Identity{}, apperrors.New(apperrors.CodeUnauthorized, "missing access token")
	}
	return authorizer.Validate(r.Context(), token)
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// handleWSConn runs the full lifecycle of one connection: registration, the
// ordered per-connection event loop, and cleanup. Events from distinct
// connections run concurrently; events on this connection are processed to
// completion in order, so a disconnect never interleaves with an in-flight
// update for the same connection.
func handleWSConn(conn *websocket.Conn, deps *gatewayDeps) {
	defer func() {
		_ = conn.Close()
	}()

	identity, ok := connIdentity(conn)
	if !ok {
		return
	}

	connectionID, err := id.NewID()
	if err != nil {
		log.Printf("gateway: generate connection id: %v", err)
		return
	}

	peer := newWSPeer(json.NewEncoder(conn))
	deps.hub.addPeer(connectionID, peer)
	defer deps.hub.removePeer(connectionID)

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	superseded, err := deps.registry.Register(ctx, identity.Kind, connectionID, identity.EntityID)
	if err != nil {
		log.Printf("gateway: register %s %q: %v", identity.Kind, identity.EntityID, err)
		_ = writeWSError(peer, "", apperrors.CodeOf(err).WireCode(), "registration unavailable")
		return
	}
	if superseded != "" {
		// If the superseded peer lives on this instance, drop it from the hub
		// so room broadcasts reach only the fresh connection.
		deps.hub.removePeer(superseded)
	}
	defer func() {
		// The request context may already be done here; cleanup still has to
		// run so the bindings are released.
		cleanupConnection(context.Background(), deps, connectionID)
	}()

	if identity.Kind == registry.KindVendor {
		broadcastVendorStatus(ctx, deps, identity.EntityID, true)
	}

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", apperrors.CodeInvalidPayload.WireCode(), "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload.WireCode(), "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeRateLimitExceeded.WireCode(), "frame rate exceeded")
			return
		}

		switch frame.Type {
		case framePresenceSync:
			handleSyncFrame(ctx, deps, peer, identity, connectionID, frame)
		case framePresencePublish:
			handlePublishFrame(ctx, deps, peer, identity, frame)
		case frameVendorStatus:
			handleVendorStatusFrame(ctx, deps, peer, identity, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, apperrors.WireInvalidArgument, "unsupported frame type")
		}
	}
}

func connIdentity(conn *websocket.Conn) (Identity, bool) {
	request := conn.Request()
	if request == nil {
		return Identity{}, false
	}
	identity, ok := request.Context().Value(wsIdentityContextKey{}).(Identity)
	if !ok || strings.TrimSpace(identity.EntityID) == "" {
		return Identity{}, false
	}
	return identity, true
}

// handleSyncFrame runs the proximity synchronizer for a user and replies
// with the counterpart roster.
func handleSyncFrame(ctx context.Context, deps *gatewayDeps, peer *wsPeer, identity Identity, connectionID string, frame wsFrame) {
	if identity.Kind != registry.KindUser {
		_ = writeWSError(peer, frame.RequestID, apperrors.WireInvalidArgument, "presence.sync requires a user connection")
		return
	}
	if !deps.limiter.Allow(ctx, identity.EntityID, ratelimit.Standard) {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeRateLimitExceeded.WireCode(), "rate limit exceeded")
		return
	}

	var payload syncPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload.WireCode(), "invalid sync payload")
		return
	}

	result, err := deps.synchronizer.Synchronize(ctx, identity.EntityID, connectionID, payload.Bounds)
	if err != nil {
		log.Printf("gateway: synchronize user=%q: %v", identity.EntityID, err)
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeOf(err).WireCode(), "synchronize failed")
		return
	}

	vendors := make([]vendorChannel, 0, len(result.Roster))
	for _, vendor := range result.Roster {
		vendors = append(vendors, vendorChannel{ID: vendor.ID, Location: vendor.Location})
	}
	_ = peer.writeFrame(wsFrame{
		Type:      eventVendorChannels,
		RequestID: frame.RequestID,
		Payload: mustJSON(vendorChannelsPayload{
			Vendors: vendors,
			Joined:  result.Joined,
			Left:    result.Left,
		}),
	})
}

// handlePublishFrame publishes a vendor position to the index and the
// vendor's room.
func handlePublishFrame(ctx context.Context, deps *gatewayDeps, peer *wsPeer, identity Identity, frame wsFrame) {
	if identity.Kind != registry.KindVendor {
		_ = writeWSError(peer, frame.RequestID, apperrors.WireInvalidArgument, "presence.publish requires a vendor connection")
		return
	}
	if !deps.limiter.Allow(ctx, identity.EntityID, ratelimit.Lenient) {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeRateLimitExceeded.WireCode(), "rate limit exceeded")
		return
	}

	var payload publishPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload.WireCode(), "invalid publish payload")
		return
	}

	if err := deps.synchronizer.PublishVendorLocation(ctx, identity.EntityID, payload.Location); err != nil {
		log.Printf("gateway: publish vendor=%q: %v", identity.EntityID, err)
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeOf(err).WireCode(), "publish failed")
		return
	}
}

// handleVendorStatusFrame answers a read-only online check for a vendor.
func handleVendorStatusFrame(ctx context.Context, deps *gatewayDeps, peer *wsPeer, identity Identity, frame wsFrame) {
	if !deps.limiter.Allow(ctx, identity.EntityID, ratelimit.Status) {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeRateLimitExceeded.WireCode(), "rate limit exceeded")
		return
	}

	var payload vendorStatusQueryPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || strings.TrimSpace(payload.VendorID) == "" {
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidPayload.WireCode(), "vendor_id is required")
		return
	}

	_, err := deps.registry.ConnectionForEntity(ctx, payload.VendorID)
	online := err == nil
	if err != nil && !errors.Is(err, registry.ErrUnknownEntity) {
		log.Printf("gateway: vendor status lookup %q: %v", payload.VendorID, err)
		_ = writeWSError(peer, frame.RequestID, apperrors.CodeOf(err).WireCode(), "status lookup unavailable")
		return
	}

	_ = peer.writeFrame(wsFrame{
		Type:      eventVendorStatusChanged,
		RequestID: frame.RequestID,
		Payload: mustJSON(vendorStatusPayload{
			VendorID: payload.VendorID,
			IsOnline: online,
		}),
	})
}

// cleanupConnection releases registry state for a closed connection and, for
// a vendor, tells every remaining subscriber the vendor went offline.
func cleanupConnection(ctx context.Context, deps *gatewayDeps, connectionID string) {
	record, err := deps.registry.EntityForConnection(ctx, connectionID)
	if err != nil && !errors.Is(err, registry.ErrUnknownConnection) {
		log.Printf("gateway: resolve connection %q for cleanup: %v", connectionID, err)
	}

	result, err := deps.registry.Cleanup(ctx, connectionID)
	if err != nil {
		log.Printf("gateway: cleanup connection %q: %v", connectionID, err)
		return
	}

	if record.Kind != registry.KindVendor {
		return
	}
	payload := vendorStatusPayload{VendorID: record.EntityID, IsOnline: false}
	for _, subscriberID := range result.Subscribers {
		subscriberConn, err := deps.registry.ConnectionForEntity(ctx, subscriberID)
		if err != nil {
			continue
		}
		_ = deps.hub.EmitToConn(subscriberConn, eventVendorStatusChanged, payload)
	}
}

// broadcastVendorStatus notifies a vendor's current subscribers of an online
// transition.
func broadcastVendorStatus(ctx context.Context, deps *gatewayDeps, vendorID string, online bool) {
	subscribers, err := deps.registry.Subscribers(ctx, vendorID)
	if err != nil {
		log.Printf("gateway: read subscribers for vendor %q: %v", vendorID, err)
		return
	}
	payload := vendorStatusPayload{VendorID: vendorID, IsOnline: online}
	for _, subscriberID := range subscribers {
		subscriberConn, err := deps.registry.ConnectionForEntity(ctx, subscriberID)
		if err != nil {
			continue
		}
		_ = deps.hub.EmitToConn(subscriberConn, eventVendorStatusChanged, payload)
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      eventError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorPayload{
			Code:    code,
			Message: message,
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

// NewServer builds a configured gateway server.
func NewServer(cfg Config) (*Server, error) {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store client is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("geo index client is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	deps := newGatewayDeps(cfg.Store, cfg.Index)
	handler := newHandler(deps, cfg.Authorizer, cfg.Authorizer != nil)

	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: cfg.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
	}
	if cfg.ReconcileInterval > 0 {
		server.reconcileStop, server.reconcileDone = startReconcileWorker(deps.registry, cfg.ReconcileInterval)
	}
	return server, nil
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("init gateway server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("gateway server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("gateway server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.reconcileStop != nil {
		s.reconcileStop()
	}
	if s.reconcileDone != nil {
		<-s.reconcileDone
	}
}

// startReconcileWorker runs the membership reconciliation pass on a fixed
// interval until stopped.
func startReconcileWorker(reg *registry.Registry, interval time.Duration) (context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := reg.ReconcileSubscriptions(ctx)
				if err != nil {
					log.Printf("gateway: reconcile subscriptions: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("gateway: reconciled %d orphaned subscriptions", removed)
				}
			}
		}
	}()
	return cancel, done
}
