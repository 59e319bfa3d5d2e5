package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"signal-relay/internal/config"
	"signal-relay/internal/metrics"
	"signal-relay/internal/queue"
	"signal-relay/internal/repo"
	"signal-relay/pkg/types"
)

const (
	// tokenBytes is the entropy behind each refresh token.
	tokenBytes = 16

	// maxPendingPerPoll caps how many pending trades and replies a single
	// poll response carries. Leftovers come back on the next poll.
	maxPendingPerPoll = 100
)

// Repository is the slice of the relational store the handlers touch.
type Repository interface {
	GetCopySetupByToken(ctx context.Context, db repo.Querier, token string) (*types.CopySetup, error)
	ApplyTradeUpdate(ctx context.Context, db repo.Querier, copySetupID int64, t types.Trade) error
	Pool() repo.Querier
}

// SessionStore is the session and pending-queue surface the client
// endpoints drive.
type SessionStore interface {
	AddSession(ctx context.Context, sess types.Session) error
	RotateSession(ctx context.Context, oldToken string, sess types.Session) error
	DeleteSession(ctx context.Context, sess types.Session) error
	GetSession(ctx context.Context, token string) (*types.Session, error)
	GetSessionByClient(ctx context.Context, clientInstanceID string) (*types.Session, error)
	PendingTrades(ctx context.Context, clientInstanceID string, limit int) ([]types.Trade, error)
	PendingReplies(ctx context.Context, clientInstanceID string, limit int) ([]types.SignalReply, error)
	DeletePendingTrades(ctx context.Context, clientInstanceID string, ids []int64) (int, error)
	DeletePendingReplies(ctx context.Context, clientInstanceID string, ids []int64) (int, error)
	SessionTTL() time.Duration
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	repo     Repository
	store    SessionStore
	status   StatusProvider
	cfg      config.ServerConfig
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(r Repository, store SessionStore, status StatusProvider, cfg config.ServerConfig, logger *slog.Logger) *Handlers {
	return &Handlers{
		repo:     r,
		store:    store,
		status:   status,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleClientInit registers a copier client against the copy setup named
// by X-CopySetup-Token and opens a fresh session for it.
func (h *Handlers) HandleClientInit(w http.ResponseWriter, r *http.Request) {
	setupToken := r.Header.Get("X-CopySetup-Token")
	if setupToken == "" {
		h.writeError(w, "client_init", http.StatusBadRequest, "X-CopySetup-Token header missing")
		return
	}

	var body types.ClientInitBody
	if err := h.decodeBody(r, &body); err != nil {
		h.writeError(w, "client_init", http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	setup, err := h.repo.GetCopySetupByToken(ctx, h.repo.Pool(), setupToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			h.writeError(w, "client_init", http.StatusUnauthorized, "unknown copy setup token")
			return
		}
		h.logger.Error("copy setup lookup failed", "error", err)
		h.writeError(w, "client_init", http.StatusInternalServerError, "internal error")
		return
	}

	refreshToken, err := mintToken()
	if err != nil {
		h.logger.Error("token mint failed", "error", err)
		h.writeError(w, "client_init", http.StatusInternalServerError, "internal error")
		return
	}

	clientID := defaultClientID(body.ClientInstanceID)

	// A re-initializing client gets a fresh session; drop the old one so
	// its token stops receiving fan-out now instead of at TTL expiry.
	if old, err := h.store.GetSessionByClient(ctx, clientID); err == nil {
		if err := h.store.DeleteSession(ctx, *old); err != nil {
			h.logger.Warn("stale session cleanup failed", "client_instance_id", clientID, "error", err)
		}
	} else if !errors.Is(err, queue.ErrSessionNotFound) {
		h.logger.Warn("stale session lookup failed", "client_instance_id", clientID, "error", err)
	}

	sess := types.Session{
		RefreshToken:     refreshToken,
		CopySetupID:      setup.ID,
		ClientInstanceID: clientID,
		IP:               clientIP(r),
		PollInterval:     body.PollInterval,
	}
	if err := h.store.AddSession(ctx, sess); err != nil {
		h.logger.Error("session create failed", "copy_setup_id", setup.ID, "error", err)
		h.writeError(w, "client_init", http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info("client session opened",
		"copy_setup_id", setup.ID,
		"client_instance_id", clientID,
		"account_id", body.AccountID,
		"client_version", body.ClientVersion)

	h.writeJSON(w, "client_init", http.StatusCreated,
		initResponse(setup, clientID, refreshToken, int(h.store.SessionTTL().Seconds())))
}

// HandlePoll rotates the caller's refresh token, absorbs its acks and
// uploaded trade state, and returns whatever is pending for it.
func (h *Handlers) HandlePoll(w http.ResponseWriter, r *http.Request) {
	oldToken := r.Header.Get("X-Refresh-Token")
	if oldToken == "" {
		h.writeError(w, "poll", http.StatusBadRequest, "X-Refresh-Token header missing")
		return
	}

	var body types.PollBody
	if err := h.decodeBody(r, &body); err != nil {
		h.writeError(w, "poll", http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	sess, err := h.store.GetSession(ctx, oldToken)
	if err != nil {
		if errors.Is(err, queue.ErrSessionNotFound) {
			h.writeError(w, "poll", http.StatusNotFound, "invalid or expired refresh token")
			return
		}
		h.logger.Error("session lookup failed", "error", err)
		h.writeError(w, "poll", http.StatusInternalServerError, "internal error")
		return
	}
	if body.ClientInstanceID != sess.ClientInstanceID {
		// The session wins: pending queues are read by the identity the
		// token was minted for, never by what the body claims.
		h.logger.Warn("poll client id mismatch",
			"session_client", sess.ClientInstanceID,
			"body_client", body.ClientInstanceID)
	}

	newToken, err := mintToken()
	if err != nil {
		h.logger.Error("token mint failed", "error", err)
		h.writeError(w, "poll", http.StatusInternalServerError, "internal error")
		return
	}

	next := *sess
	next.RefreshToken = newToken
	if err := h.store.RotateSession(ctx, oldToken, next); err != nil {
		h.logger.Error("session rotate failed", "client_instance_id", sess.ClientInstanceID, "error", err)
		h.writeError(w, "poll", http.StatusInternalServerError, "internal error")
		return
	}

	h.absorbAcks(ctx, sess.ClientInstanceID, body)
	h.absorbTrades(ctx, sess.CopySetupID, body.Trades)

	trades, err := h.store.PendingTrades(ctx, sess.ClientInstanceID, maxPendingPerPoll)
	if err != nil {
		h.logger.Error("pending trades read failed", "client_instance_id", sess.ClientInstanceID, "error", err)
		h.writeError(w, "poll", http.StatusInternalServerError, "internal error")
		return
	}
	replies, err := h.store.PendingReplies(ctx, sess.ClientInstanceID, maxPendingPerPoll)
	if err != nil {
		h.logger.Error("pending replies read failed", "client_instance_id", sess.ClientInstanceID, "error", err)
		h.writeError(w, "poll", http.StatusInternalServerError, "internal error")
		return
	}

	if trades == nil {
		trades = []types.Trade{}
	}
	if replies == nil {
		replies = []types.SignalReply{}
	}

	h.writeJSON(w, "poll", http.StatusOK, types.PollResponse{
		RefreshToken:  newToken,
		Trades:        trades,
		SignalReplies: replies,
	})
}

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	metrics.IncAPIRequest("healthz", http.StatusOK)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// HandleAdminStatus returns the runtime snapshot for operators.
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminPW == "" || r.Header.Get("X-Admin-Password") != h.cfg.AdminPW {
		h.writeError(w, "admin_status", http.StatusUnauthorized, "admin password required")
		return
	}

	st, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Error("status snapshot failed", "error", err)
		h.writeError(w, "admin_status", http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, "admin_status", http.StatusOK, st)
}

// absorbAcks deletes pending entries the client confirmed applying.
// Ack failures never fail the poll; unacked items simply come back.
func (h *Handlers) absorbAcks(ctx context.Context, clientID string, body types.PollBody) {
	if len(body.TradeAckIDs) > 0 {
		if n, err := h.store.DeletePendingTrades(ctx, clientID, body.TradeAckIDs); err != nil {
			h.logger.Warn("trade ack delete failed", "client_instance_id", clientID, "error", err)
		} else if n > 0 {
			h.logger.Debug("acked pending trades", "client_instance_id", clientID, "count", n)
		}
	}
	if len(body.SignalReplyAckIDs) > 0 {
		if n, err := h.store.DeletePendingReplies(ctx, clientID, body.SignalReplyAckIDs); err != nil {
			h.logger.Warn("reply ack delete failed", "client_instance_id", clientID, "error", err)
		} else if n > 0 {
			h.logger.Debug("acked pending replies", "client_instance_id", clientID, "count", n)
		}
	}
}

// absorbTrades records client-reported trade state. Rows are matched
// within the session's copy setup; unknown ids are logged and skipped.
func (h *Handlers) absorbTrades(ctx context.Context, copySetupID int64, trades []types.Trade) {
	for _, t := range trades {
		err := h.repo.ApplyTradeUpdate(ctx, h.repo.Pool(), copySetupID, t)
		if err == nil {
			continue
		}
		if errors.Is(err, repo.ErrNotFound) {
			h.logger.Warn("trade update for unknown row", "copy_setup_id", copySetupID, "trade_id", t.ID)
			continue
		}
		h.logger.Error("trade update failed", "copy_setup_id", copySetupID, "trade_id", t.ID, "error", err)
	}
}

// decodeBody strictly decodes and validates a JSON request body.
func (h *Handlers) decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed body: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// writeJSON sends a JSON response and records the request metric.
func (h *Handlers) writeJSON(w http.ResponseWriter, endpoint string, code int, v any) {
	metrics.IncAPIRequest(endpoint, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "endpoint", endpoint, "error", err)
	}
}

// writeError sends the {"detail": ...} error shape clients parse.
func (h *Handlers) writeError(w http.ResponseWriter, endpoint string, code int, detail string) {
	h.writeJSON(w, endpoint, code, map[string]string{"detail": detail})
}

// mintToken returns a fresh URL-safe refresh token from 16 random bytes.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// defaultClientID keeps a client-provided instance id or mints one.
func defaultClientID(provided string) string {
	if provided != "" {
		return provided
	}
	return "cid-" + uuid.NewString()
}

// clientIP extracts the peer address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "0.0.0.0"
	}
	return host
}

// initResponse projects a copy setup's config onto the init payload.
func initResponse(setup *types.CopySetup, clientID, token string, expireSec int) types.ClientInitResponse {
	resp := types.ClientInitResponse{
		ClientInstanceID: clientID,
		RefreshToken:     token,
		ExpireSec:        expireSec,
		ServerCaps:       map[string]any{},
	}

	cfg := setup.Config
	if cfg == nil {
		return resp
	}
	resp.LotMode = cfg.LotMode
	resp.FixedLot = cfg.FixedLot
	resp.BreakevenOnTPLayer = cfg.BreakevenOnTPLayer
	resp.CloseTradesBeforeEverydaySwap = cfg.CloseTradesBeforeEverydaySwap
	resp.CloseTradesBeforeWednesdaySwap = cfg.CloseTradesBeforeWednesdaySwap
	resp.CloseTradesBeforeWeekend = cfg.CloseTradesBeforeWeekend
	resp.TrailingstopOnTPs = cfg.TrailingstopOnTPs
	resp.TradeprofitPercentFromBalansForBreakeven = cfg.TradeprofitPercentFromBalansForBreakeven
	resp.ExpireMinutesPendingTrade = cfg.ExpireMinutesPendingTrade
	resp.ExpireMinutesActiveTrade = cfg.ExpireMinutesActiveTrade
	resp.ExpireAtTPHitBeforeEntry = cfg.ExpireAtTPHitBeforeEntry
	return resp
}
