package handler

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/activity"
	"github.com/matthewbaird/rentroll/internal/eventbus"
	"github.com/matthewbaird/rentroll/internal/types"
)

// streamBuffer is how many notifications a slow websocket client may lag
// behind before notifications are dropped for it.
const streamBuffer = 32

// NotificationHandler serves the persisted notification feed and the live
// stream.
type NotificationHandler struct {
	store activity.Store
	bus   *eventbus.Bus
	log   zerolog.Logger
}

// NewNotificationHandler creates a new NotificationHandler. bus may be nil,
// in which case the stream route answers 503.
func NewNotificationHandler(store activity.Store, bus *eventbus.Bus, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, bus: bus, log: log}
}

// ListNotifications returns notifications newest first. With q set it runs a
// text search over subject and message instead of a cursor query.
// GET /v1/notifications?organization_id=&type=a,b&entity_type=&entity_id=&since=&until=&limit=&cursor=&q=
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := activity.DefaultQueryOptions()
	opts.OrganizationID = q.Get("organization_id")
	opts.Types = queryList(r, "type")
	opts.EntityType = q.Get("entity_type")
	opts.EntityID = q.Get("entity_id")
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "since must be RFC 3339")
			return
		}
		opts.Since = &t
	}
	if u := q.Get("until"); u != "" {
		t, err := time.Parse(time.RFC3339, u)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "until must be RFC 3339")
			return
		}
		opts.Until = &t
	}
	limit, ok := queryInt(w, r, "limit", opts.Limit)
	if !ok {
		return
	}
	opts.Limit = limit
	opts.Cursor = q.Get("cursor")

	resp := struct {
		Notifications []types.Notification `json:"notifications"`
		NextCursor    string               `json:"next_cursor,omitempty"`
		TotalCount    int                  `json:"total_count"`
		Period        struct {
			Since *time.Time `json:"since,omitempty"`
			Until *time.Time `json:"until,omitempty"`
		} `json:"period"`
	}{}
	resp.Period.Since, resp.Period.Until = opts.Since, opts.Until

	var err error
	if text := q.Get("q"); text != "" {
		resp.Notifications, resp.TotalCount, err = h.store.Search(r.Context(), text, opts)
	} else {
		resp.Notifications, resp.NextCursor, resp.TotalCount, err = h.store.Query(r.Context(), opts)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("notification query failed")
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", "notification query failed")
		return
	}
	if resp.Notifications == nil {
		resp.Notifications = []types.Notification{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stream upgrades to a websocket and pushes every notification published on
// the bus that matches the organization_id and type filters.
// GET /v1/notifications/stream?organization_id=&type=a,b
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "notification stream is not enabled")
		return
	}
	org := r.URL.Query().Get("organization_id")
	kinds := queryList(r, "type")

	feed := make(chan types.Notification, streamBuffer)
	name := "ws-" + uuid.New().String()
	unsubscribe := h.bus.Subscribe(name, eventbus.HandlerFunc(func(_ context.Context, n types.Notification) error {
		if org != "" && n.OrganizationID != org {
			return nil
		}
		if len(kinds) > 0 && !slices.Contains(kinds, n.Type) {
			return nil
		}
		select {
		case feed <- n:
		default:
			h.log.Warn().Str("subscriber", name).Str("notification_id", n.ID).Msg("stream client lagging, notification dropped")
		}
		return nil
	}))
	defer unsubscribe()

	// Subscribed before the upgrade so nothing published after the handshake
	// is missed.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case n := <-feed:
			if err := wsjson.Write(ctx, conn, n); err != nil {
				h.log.Debug().Err(err).Str("subscriber", name).Msg("stream write failed")
				return
			}
		}
	}
}
