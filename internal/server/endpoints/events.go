package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/svcctx"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
)

// EventsEndpoint handles GET /api/events. It upgrades to a websocket and
// streams every status event as JSON, optionally filtered by ?batch=.
type EventsEndpoint struct {
	// AllowedOrigins are accepted besides same-origin and non-browser
	// clients.
	AllowedOrigins []string
}

var _ api.Endpoint = (*EventsEndpoint)(nil)

func (e *EventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/events", e.handler
}

func (e *EventsEndpoint) RequiresInit() bool { return true }

func (e *EventsEndpoint) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.Contains(e.AllowedOrigins, origin)
}

func (e *EventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	m := svcctx.ManagerFrom(r.Context())
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "batch manager not initialized")
		return
	}
	logger := svcctx.LoggerFrom(r.Context())
	batchID := r.URL.Query().Get("batch")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     e.checkOrigin,
	}
	// Subscribe first so nothing published after the handshake is missed.
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	// The read side only handles control frames; it ends when the client
	// goes away.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if batchID != "" && ev.BatchID != batchID {
				continue
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if logger != nil {
					logger.Debug("event stream closed", "error", err)
				}
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (e *EventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var batchID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/events"
			if batchID != "" {
				path += "?batch=" + url.QueryEscape(batchID)
			}
			client := api.NewClient(getServerURL())
			return client.Stream(cmd.Context(), path, func(msg []byte) error {
				var ev jobs.StatusEvent
				if err := json.Unmarshal(msg, &ev); err != nil {
					return fmt.Errorf("bad event: %w", err)
				}
				return api.Output(ev)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "Only show events of this batch")
	return cmd
}
