package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/miyako/questforge/cache"
	"github.com/miyako/questforge/config"
	"github.com/miyako/questforge/game/player"
	"github.com/miyako/questforge/game/quest"
	mw "github.com/miyako/questforge/middleware"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *player.SessionManager
	reg      *quest.Registry
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	c cache.Cache,
	sec config.SecurityConfig,
	sm *player.SessionManager,
	reg *quest.Registry,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		sm:     sm,
		reg:    reg,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	playerID := strconv.FormatInt(claims.AccountID, 10)

	// The progress record gates every later write-back; if it cannot be
	// loaded the connection is refused rather than risking a default record
	// clobbering the player's history.
	if err := h.reg.LoadPlayer(c.Request.Context(), playerID); err != nil {
		h.logger.Error("player record unavailable, refusing connection",
			zap.String("player_id", playerID),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := player.NewPlayerSession(playerID, claims.AccountID, conn, h.logger)
	h.sm.Register(sess)

	// An old session's teardown can unload the record between the gate above
	// and Register; re-assert the load now that this session owns the entry.
	// Resident records are kept, so this is a no-op on the common path.
	if err := h.reg.LoadPlayer(c.Request.Context(), playerID); err != nil {
		h.logger.Error("player record unavailable after register",
			zap.String("player_id", playerID),
			zap.Error(err))
		sess.Close()
		h.sm.Unregister(sess)
		return
	}
	h.readPump(sess)
}

// readPump reads messages sequentially from the connection and dispatches
// them. One goroutine per connection is the per-player single-threaded
// delivery path the engine relies on.
func (h *Handler) readPump(s *player.PlayerSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("player_id", s.PlayerID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect cleans up the session after the connection closes. When a
// duplicate login has displaced this session, a newer connection owns the
// registry entry and the progress record; only the owning session unloads.
func (h *Handler) handleDisconnect(s *player.PlayerSession) {
	s.Close()
	if !h.sm.Unregister(s) {
		h.logger.Info("displaced session closed",
			zap.String("player_id", s.PlayerID))
		return
	}
	h.reg.UnloadPlayer(s.PlayerID)
	h.logger.Info("player disconnected",
		zap.String("player_id", s.PlayerID))
}
