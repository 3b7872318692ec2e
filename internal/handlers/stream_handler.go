package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"savings-tracker/internal/dto"
	"savings-tracker/internal/errors"
	"savings-tracker/internal/ledgerstore"
	"savings-tracker/internal/services"
	"savings-tracker/internal/session"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamWriteWait = 10 * time.Second
	// pongs must arrive within this window of a ping
	streamPongWait = 60 * time.Second
)

// StreamHandler pushes projected progress over a websocket after every
// ledger change. The connection carries its own session signed in until the
// access token expires, so an expired token ends the stream.
type StreamHandler struct {
	ledgerService services.LedgerServiceInterface
	upgrader      websocket.Upgrader
	pingPeriod    time.Duration
	logger        *slog.Logger
}

func NewStreamHandler(ledgerService services.LedgerServiceInterface, pingPeriod time.Duration, allowedOrigins []string, logger *slog.Logger) *StreamHandler {
	if pingPeriod <= 0 || pingPeriod >= streamPongWait {
		pingPeriod = streamPongWait * 9 / 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamHandler{
		ledgerService: ledgerService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingPeriod: pingPeriod,
		logger:     logger.With("component", "ledger_stream"),
	}
}

// Stream handles GET /ledger/stream
func (h *StreamHandler) Stream(c echo.Context) error {
	identity, ok := identityFromContext(c)
	if !ok {
		return SendError(c, errors.AuthMissingToken)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the client
		h.logger.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return nil
	}
	defer conn.Close()

	sess := session.New()
	sess.SignIn(identity, tokenExpiryFromContext(c))
	defer sess.SignOut()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	stopWatch := sess.OnIdentityChange(func(_ session.Identity, signedIn bool) {
		if !signedIn {
			cancel()
		}
	})
	defer stopWatch()

	updates := make(chan ledgerstore.Snapshot, 1)
	sub, err := h.ledgerService.SubscribeLedger(ctx, sess, func(snap ledgerstore.Snapshot) {
		offerLatest(updates, snap)
	})
	if err != nil {
		h.logger.Warn("ledger subscription failed", "user_id", identity.UserID, "error", err)
		h.writeClose(conn, websocket.CloseInternalServerErr, "subscription failed")
		return nil
	}
	defer sub.Cancel()

	go h.readPump(conn, cancel)

	h.logger.Info("ledger stream opened", "user_id", identity.UserID)
	h.writePump(ctx, conn, updates)
	h.logger.Info("ledger stream closed", "user_id", identity.UserID)

	return nil
}

// offerLatest keeps only the newest snapshot so a slow client never blocks
// the store's fan-out.
func offerLatest(ch chan ledgerstore.Snapshot, snap ledgerstore.Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// readPump discards client frames; it exists to process pongs and notice
// the peer going away.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, updates <-chan ledgerstore.Snapshot) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteJSON(dto.StreamMessage{Type: dto.StreamTypeClosed})
			h.writeClose(conn, websocket.CloseNormalClosure, "")
			return

		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			msg := dto.StreamMessage{Type: dto.StreamTypeSnapshot, Data: services.ProjectProgress(snap)}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) writeClose(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

// originChecker allows same-origin requests and the configured CORS origins.
// A "*" entry allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
