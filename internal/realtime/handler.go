package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"callcenter/internal/auth"
	"callcenter/internal/events"
	"callcenter/internal/metrics"
	"callcenter/internal/models"
	"callcenter/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client-originated events.
const (
	EventPresenceList = "presence:list"
	EventCallInitiate = "call:initiate"
	EventCallTransfer = "call:transfer"
	EventCallEnd      = "call:end"
)

const bearerProtocol = "bearer."

type Authenticator interface {
	Authenticate(token string) (*auth.Claims, error)
}

type CallControl interface {
	Initiate(ctx context.Context, caller service.Caller, req service.InitiateRequest) (*service.InitiateResult, error)
	Transfer(ctx context.Context, caller service.Caller, req service.TransferRequest) (*service.TransferResult, error)
	End(ctx context.Context, caller service.Caller, callID string) (*service.EndResult, error)
	AgentDisconnected(ctx context.Context, socketID string) error
}

type Presence interface {
	Connected(ctx context.Context, userID int64, socketID string)
	Disconnected(ctx context.Context, userID int64)
	Online(ctx context.Context) []models.PresenceEntry
}

type failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Handler upgrades authenticated requests and routes client events to the
// call and presence services.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	calls    CallControl
	presence Presence
	upgrader websocket.Upgrader
	logger   *zerolog.Logger
}

// NewHandler builds the /ws endpoint. An empty allowedOrigins accepts any origin.
func NewHandler(hub *Hub, authn Authenticator, calls CallControl, presence Presence, allowedOrigins []string, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handler{
		hub:      hub,
		auth:     authn,
		calls:    calls,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, protocol := requestToken(r)
	if token == "" {
		writeAuthError(w, "Auth required")
		return
	}
	claims, err := h.auth.Authenticate(token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Realtime token rejected")
		writeAuthError(w, "Invalid token")
		return
	}

	var header http.Header
	if protocol != "" {
		header = http.Header{"Sec-Websocket-Protocol": {protocol}}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := newClient(h.hub, conn, uuid.NewString(), claims, h.logger)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	client.logger.Info().Msg("Socket connected")

	h.presence.Connected(r.Context(), claims.ID, client.ID)

	go client.WritePump()
	go func() {
		client.ReadPump(h.dispatch)
		h.disconnected(client)
	}()
}

func (h *Handler) disconnected(c *Client) {
	ctx := context.Background()
	if err := h.calls.AgentDisconnected(ctx, c.ID); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to release calls of disconnected socket")
	}
	h.presence.Disconnected(ctx, c.UserID)
	c.logger.Info().Msg("Socket disconnected")
}

func (h *Handler) dispatch(c *Client, f Frame) {
	metrics.IncRealtimeEvent(f.Event)
	ctx := context.Background()
	caller := service.Caller{ID: c.Claims.ID, Name: c.Claims.Name, Slug: c.Claims.Slug, SocketID: c.ID}

	switch f.Event {
	case EventPresenceList:
		online := h.presence.Online(ctx)
		if f.Ack != nil {
			c.reply(*f.Ack, online)
			return
		}
		c.Emit(EventPresenceList, online)

	case EventCallInitiate:
		var req struct {
			To           string `json:"to"`
			TargetUserID int64  `json:"targetUserId"`
		}
		decode(f.Data, &req)
		res, err := h.calls.Initiate(ctx, caller, service.InitiateRequest{To: req.To, TargetUserID: req.TargetUserID})
		h.respond(c, f, res, err, "initiate_failed")

	case EventCallTransfer:
		var req struct {
			CallID string `json:"callId"`
			Target string `json:"target"`
			Mode   string `json:"mode"`
		}
		decode(f.Data, &req)
		res, err := h.calls.Transfer(ctx, caller, service.TransferRequest{CallID: req.CallID, Target: req.Target, Mode: req.Mode})
		h.respond(c, f, res, err, "transfer_failed")

	case EventCallEnd:
		var req struct {
			CallID  string `json:"callId"`
			CallSID string `json:"callSid"`
		}
		decode(f.Data, &req)
		id := req.CallID
		if id == "" {
			id = req.CallSID
		}
		res, err := h.calls.End(ctx, caller, id)
		h.respond(c, f, res, err, "end_failed")

	default:
		if f.Ack != nil {
			c.reply(*f.Ack, failure{Error: "unknown_event"})
		}
	}
}

// respond acks the result, or reports the failure as an ack or, without one,
// as a failed call:status push.
func (h *Handler) respond(c *Client, f Frame, result any, err error, fallback string) {
	if err == nil {
		if f.Ack != nil {
			c.reply(*f.Ack, result)
		}
		return
	}

	code := service.CallErrorCode(err, fallback)
	if code == fallback {
		c.logger.Error().Err(err).Str("event", f.Event).Msg("Call control failed")
	}
	if f.Ack != nil {
		c.reply(*f.Ack, failure{Error: code})
		return
	}
	c.Emit(events.CallStatus, service.CallStatusPayload{Status: models.CallFailed, Error: code})
}

func decode(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v)
}

// requestToken finds the JWT in the query, the Authorization header or a
// "bearer.<jwt>" subprotocol. The matched subprotocol is returned for echoing.
func requestToken(r *http.Request) (token, protocol string) {
	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t, ""
	}
	for _, p := range websocket.Subprotocols(r) {
		if t, ok := strings.CutPrefix(p, bearerProtocol); ok && t != "" {
			return t, p
		}
	}
	return "", ""
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
