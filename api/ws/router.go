package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/kasuganosora/coopwave/server/game/player"
	"go.uber.org/zap"
)

var (
	errSpectator   = errors.New("player ticket required")
	errUnknownType = errors.New("unknown message type")
	errMalformed   = errors.New("malformed packet")
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, session *player.Session, payload json.RawMessage) error

type route struct {
	fn         HandlerFunc
	playerOnly bool
}

// Router dispatches incoming WS packets to registered handlers. Routes are
// registered at startup, before any session connects.
type Router struct {
	routes map[string]route
	logger *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		routes: make(map[string]route),
		logger: logger,
	}
}

// On registers fn for msgType, open to players and spectators alike.
// Registering a type again replaces the previous handler.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.routes[msgType] = route{fn: fn}
}

// OnPlayer registers fn for msgType; spectator sessions get an error packet
// instead of reaching fn.
func (r *Router) OnPlayer(msgType string, fn HandlerFunc) {
	r.routes[msgType] = route{fn: fn, playerOnly: true}
}

// Types lists the registered message types, sorted.
func (r *Router) Types() []string {
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch decodes raw bytes, drops replayed packets and invokes the
// matching handler. Any rejection or handler error goes back to the client
// as an "error" packet whose ref is the message type.
func (r *Router) Dispatch(s *player.Session, raw []byte) {
	var pkt player.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.String("encounter_id", s.EncounterID),
			zap.Error(err))
		s.SendError("", errMalformed.Error())
		return
	}

	// Seq 0 opts out of replay protection.
	if pkt.Seq != 0 && pkt.Seq <= s.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("encounter_id", s.EncounterID),
			zap.Int64("player_id", s.PlayerID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", s.LastSeq))
		return
	}
	if pkt.Seq != 0 {
		s.LastSeq = pkt.Seq
	}

	rt, ok := r.routes[pkt.Type]
	if !ok {
		s.SendError(pkt.Type, errUnknownType.Error())
		return
	}
	if rt.playerOnly && !s.IsPlayer() {
		s.SendError(pkt.Type, errSpectator.Error())
		return
	}

	s.TraceID = uuid.NewString()
	ctx := context.WithValue(context.Background(), ctxKeyTraceID{}, s.TraceID)
	if err := rt.fn(ctx, s, pkt.Payload); err != nil {
		r.logger.Debug("handler error",
			zap.String("type", pkt.Type),
			zap.String("encounter_id", s.EncounterID),
			zap.Int64("player_id", s.PlayerID),
			zap.String("trace_id", s.TraceID),
			zap.Error(err))
		s.SendError(pkt.Type, err.Error())
	}
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
