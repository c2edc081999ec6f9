package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/core/domain"
	"github.com/greenlawn/marketplace-session/internal/core/ports"
	"github.com/greenlawn/marketplace-session/internal/core/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// RealtimeHandler streams patched collection snapshots over a websocket.
type RealtimeHandler struct {
	service  ports.SessionService
	registry *realtime.Registry
	fetcher  ports.RowFetcher
	allowed  func(table string) bool
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewRealtimeHandler(
	service ports.SessionService,
	registry *realtime.Registry,
	fetcher ports.RowFetcher,
	allowed func(table string) bool,
	log zerolog.Logger,
) *RealtimeHandler {
	return &RealtimeHandler{
		service:  service,
		registry: registry,
		fetcher:  fetcher,
		allowed:  allowed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: log,
	}
}

type snapshotFrame struct {
	Table string       `json:"table"`
	Rows  []domain.Row `json:"rows"`
	Stale bool         `json:"stale"`
}

// Stream handles GET /v1/realtime/:table. Sessions other than admin only see
// their own rows.
func (h *RealtimeHandler) Stream(c echo.Context) error {
	table := c.Param("table")
	if !h.allowed(table) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown table %q", table))
	}

	st := h.service.Role()
	id, err := ctxIdentity(c, st)
	if err != nil {
		return err
	}
	var filter map[string]any
	if st.Role != domain.RoleAdmin {
		filter = map[string]any{"user_id": id.ID}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}

	connID := uuid.NewString()
	log := h.log.With().Str("table", table).Str("user_id", id.ID).Str("conn", connID).Logger()
	s := &stream{ws: ws, table: table, wake: make(chan struct{}, 1), log: log}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	coll := realtime.NewPatchedCollection(h.registry, h.fetcher, realtime.CollectionOptions{
		Channel: fmt.Sprintf("ws:%s:%s", table, connID),
		Table:   table,
		Filter:  filter,
	}, log)
	unsubscribe := coll.OnChange(func(realtime.Collection) { s.notify() })
	defer unsubscribe()

	go s.readLoop(cancel)

	if err := coll.Open(ctx); err != nil {
		log.Warn().Err(err).Msg("collection open failed")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "initial load failed"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return nil
	}
	defer coll.Close()

	log.Debug().Msg("realtime stream opened")
	s.writeLoop(ctx, coll)
	_ = ws.Close()
	log.Debug().Msg("realtime stream closed")
	return nil
}

// stream coalesces change notifications: the writer always sends the latest
// snapshot, so a slow client skips intermediate states instead of blocking
// delivery for other channels.
type stream struct {
	ws    *websocket.Conn
	table string
	wake  chan struct{}
	log   zerolog.Logger
}

func (s *stream) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stream) writeLoop(ctx context.Context, coll *realtime.PatchedCollection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// The initial load happened before the writer started; send it now.
	s.notify()
	for {
		select {
		case <-ctx.Done():
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-s.wake:
			rows := coll.Snapshot()
			if rows == nil {
				rows = realtime.Collection{}
			}
			frame := snapshotFrame{Table: s.table, Rows: rows, Stale: coll.Stale()}
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(frame); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and the close handshake are
// processed; it cancels the stream once the client goes away.
func (s *stream) readLoop(cancel context.CancelFunc) {
	defer cancel()
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			return
		}
	}
}
