// -----------------------------------------------------------------------
// WebSocket Handler - pushes download state and logs to the UI
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every message pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is one log line streamed to the UI
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// StatusUpdate is the snapshot sent on connect and after state changes
type StatusUpdate struct {
	Service          string          `json:"service"`
	ActiveDownloads  int             `json:"active_downloads"`
	Downloads        []*DownloadView `json:"downloads"`
	ServerInstanceID string          `json:"server_instance_id"` // Clients clear stale state when this changes
}

type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	registry          *registry.Registry
	progress          *progress.Service
	eventService      interfaces.EventService
	progressThrottler *rate.Limiter // Bounds the rate of progress pushes
	subscriptions     []wsSubscription
	serverInstanceID  string // Unique ID generated on startup - clients use to detect server restart
}

type wsSubscription struct {
	eventType interfaces.EventType
	id        string
}

func NewWebSocketHandler(
	eventService interfaces.EventService,
	reg *registry.Registry,
	progressService *progress.Service,
	logger arbor.ILogger,
	config *common.WebSocketConfig,
) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		registry:         reg,
		progress:         progressService,
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	// Throttle progress pushes; status-changing events are never throttled
	if config != nil && config.ThrottleInterval != "" {
		if duration, err := time.ParseDuration(config.ThrottleInterval); err == nil {
			h.progressThrottler = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("interval", config.ThrottleInterval).
				Msg("Throttler initialized for download progress pushes")
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ThrottleInterval).
				Msg("Failed to parse throttle interval - throttler disabled")
		}
	}

	if eventService != nil {
		h.subscribeToDownloadEvents()
	}

	return h
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	// Send initial status
	h.sendStatus(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// Close releases the handler's event subscriptions
func (h *WebSocketHandler) Close() {
	for _, sub := range h.subscriptions {
		if err := h.eventService.Unsubscribe(sub.eventType, sub.id); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(sub.eventType)).Msg("Failed to unsubscribe WebSocket handler")
		}
	}
	h.subscriptions = nil
}

// statusSnapshot projects the registry and progress table into the wire shape
func (h *WebSocketHandler) statusSnapshot() StatusUpdate {
	jobs := h.registry.Jobs()
	views := make([]*DownloadView, 0, len(jobs))
	active := 0
	for _, job := range jobs {
		if !job.IsTerminal() {
			active++
		}
		views = append(views, &DownloadView{
			Task:     job,
			Progress: h.progress.ParentProgress(job.ID),
		})
	}

	return StatusUpdate{
		Service:          "ONLINE",
		ActiveDownloads:  active,
		Downloads:        views,
		ServerInstanceID: h.serverInstanceID,
	}
}

// sendStatus sends current status to a specific client
func (h *WebSocketHandler) sendStatus(conn *websocket.Conn) {
	data, err := json.Marshal(WSMessage{
		Type:    "status",
		Payload: h.statusSnapshot(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal initial status")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send initial status")
		}
	}
}

// broadcast sends a message to all connected clients
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// BroadcastStatus pushes a full status snapshot to all clients
func (h *WebSocketHandler) BroadcastStatus() {
	h.broadcast(WSMessage{
		Type:    "status",
		Payload: h.statusSnapshot(),
	})
}

// BroadcastLog streams one log line to all clients
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.broadcast(WSMessage{
		Type:    "log",
		Payload: entry,
	})
}

// subscribeToDownloadEvents wires the push channel to the event bus.
// Progress pushes are throttled; terminal transitions always go out.
func (h *WebSocketHandler) subscribeToDownloadEvents() {
	subscribe := func(eventType interfaces.EventType, handler interfaces.EventHandler) {
		id, err := h.eventService.Subscribe(eventType, handler)
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket handler")
			return
		}
		h.subscriptions = append(h.subscriptions, wsSubscription{eventType: eventType, id: id})
	}

	subscribe(interfaces.EventDownloadProgress, func(ctx context.Context, event interfaces.Event) error {
		sample, ok := event.Payload.(*models.ProgressSample)
		if !ok {
			return nil
		}

		if sample.IsComplete {
			// Final samples change status; push the full snapshot immediately
			h.BroadcastStatus()
			return nil
		}

		if h.progressThrottler != nil && !h.progressThrottler.Allow() {
			return nil
		}

		h.broadcast(WSMessage{
			Type: "download_progress",
			Payload: map[string]interface{}{
				"download_id": sample.DownloadID,
				"stage":       string(sample.Stage),
				"progress":    h.progress.ParentProgress(sample.DownloadID),
				"sample":      sample,
			},
		})
		return nil
	})

	subscribe(interfaces.EventDownloadCancelled, func(ctx context.Context, event interfaces.Event) error {
		h.BroadcastStatus()
		return nil
	})

	subscribe(interfaces.EventDownloadFailed, func(ctx context.Context, event interfaces.Event) error {
		h.BroadcastStatus()
		return nil
	})

	subscribe(interfaces.EventHistoryAdded, func(ctx context.Context, event interfaces.Event) error {
		entry, ok := event.Payload.(*models.HistoryEntry)
		if !ok {
			return nil
		}
		h.broadcast(WSMessage{
			Type:    "history_added",
			Payload: entry,
		})
		return nil
	})
}
