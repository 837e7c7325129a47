// Package ws is the realtime gateway: each WebSocket connection owns a
// sync session that mirrors the selected conversation and the user's inbox.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomhub-messaging/internal/domain"
	"roomhub-messaging/internal/feed"
	"roomhub-messaging/internal/middleware"
	"roomhub-messaging/internal/service/chat"
	"roomhub-messaging/internal/service/resolver"
	"roomhub-messaging/internal/session"
	apperrors "roomhub-messaging/pkg/errors"
	"roomhub-messaging/pkg/logger"
	"roomhub-messaging/pkg/metrics"
)

// Inbound frame types.
const (
	FrameSelect        = "select"
	FrameSelectPartner = "select_partner"
	FrameSend          = "send"
	FrameMarkRead      = "mark_read"
)

// Outbound frame types.
const (
	FrameHistory        = "history"
	FrameMessage        = "message"
	FrameMessageDeleted = "message_deleted"
	FrameSendFailed     = "send_failed"
	FrameInbox          = "inbox"
	FrameError          = "error"
)

// InboundFrame is a client request
type InboundFrame struct {
	Type           string  `json:"type"`
	ConversationID *string `json:"conversation_id,omitempty"`
	PartnerID      *string `json:"partner_id,omitempty"`
	ListingID      *string `json:"listing_id,omitempty"`
	Content        string  `json:"content,omitempty"`
}

// OutboundFrame is a server push
type OutboundFrame struct {
	Type           string            `json:"type"`
	ConversationID uuid.UUID         `json:"conversation_id,omitempty"`
	Messages       []*domain.Message `json:"messages,omitempty"`
	Message        *domain.Message   `json:"message,omitempty"`
	MessageID      uuid.UUID         `json:"message_id,omitempty"`
	Content        string            `json:"content,omitempty"`
	Event          *domain.Event     `json:"event,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin allow-list is enforced by the CORS middleware
	},
}

// Gateway upgrades connections and wires each one to a sync session
type Gateway struct {
	chatService     *chat.Service
	resolverService *resolver.Service
	changeFeed      feed.Feed
	metrics         *metrics.Metrics
}

// NewGateway creates a new realtime gateway
func NewGateway(chatService *chat.Service, resolverService *resolver.Service, changeFeed feed.Feed, m *metrics.Metrics) *Gateway {
	return &Gateway{
		chatService:     chatService,
		resolverService: resolverService,
		changeFeed:      changeFeed,
		metrics:         m,
	}
}

// Client is one WebSocket connection and its session state
type Client struct {
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	session *session.Session
	watcher *session.InboxWatcher

	mu     sync.Mutex
	closed bool
}

// ServeWS handles WebSocket upgrade requests
// GET /v1/ws
func (g *Gateway) ServeWS(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		gateway: g,
		conn:    conn,
		send:    make(chan []byte, 256),
		userID:  userID,
	}
	client.session = session.New(userID, g.chatService, g.resolverService, g.changeFeed, client)
	client.watcher = session.NewInboxWatcher(userID, g.changeFeed, client)

	// The upgrade request's context dies when this handler returns, so the
	// watcher gets its own.
	if err := client.watcher.Start(context.Background()); err != nil {
		logger.Error("Failed to start inbox watcher",
			logger.User(userID),
			zap.Error(err),
		)
		conn.Close()
		return
	}

	g.metrics.IncrementWebSocketConnections()

	go client.writePump()
	go client.readPump()
}

// readPump reads client frames until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		c.watcher.Stop()
		c.gateway.metrics.DecrementWebSocketConnections()
		c.conn.Close()
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", logger.User(c.userID), zap.Error(err))
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.gateway.metrics.RecordWebSocketError("bad_frame")
			c.pushError("invalid frame")
			continue
		}

		c.gateway.metrics.RecordWebSocketMessage(frame.Type, "in")
		c.handleFrame(&frame)
	}
}

// handleFrame dispatches one client request
func (c *Client) handleFrame(frame *InboundFrame) {
	ctx := context.Background()

	switch frame.Type {
	case FrameSelect:
		conversationID, err := parseRequiredID(frame.ConversationID)
		if err != nil {
			c.pushError("invalid conversation_id")
			return
		}
		if err := c.session.Select(ctx, conversationID); err != nil {
			c.pushError(errorText(err))
		}

	case FrameSelectPartner:
		partnerID, err := parseRequiredID(frame.PartnerID)
		if err != nil {
			c.pushError("invalid partner_id")
			return
		}
		var listingID *uuid.UUID
		if frame.ListingID != nil {
			id, err := uuid.Parse(*frame.ListingID)
			if err != nil {
				c.pushError("invalid listing_id")
				return
			}
			listingID = &id
		}
		if _, err := c.session.SelectPartner(ctx, partnerID, listingID); err != nil {
			c.pushError(errorText(err))
		}

	case FrameSend:
		// Failures surface through OnSendFailed so the client can restore
		// the draft.
		_ = c.session.Send(ctx, frame.Content)

	case FrameMarkRead:
		conversationID, err := parseRequiredID(frame.ConversationID)
		if err != nil {
			c.pushError("invalid conversation_id")
			return
		}
		if err := c.gateway.chatService.MarkRead(ctx, conversationID, c.userID); err != nil {
			c.pushError(errorText(err))
		}

	default:
		c.pushError("unknown frame type")
	}
}

// OnHistory implements session.Listener
func (c *Client) OnHistory(conversationID uuid.UUID, messages []*domain.Message) {
	c.push(&OutboundFrame{
		Type:           FrameHistory,
		ConversationID: conversationID,
		Messages:       messages,
	})
}

// OnMessage implements session.Listener
func (c *Client) OnMessage(conversationID uuid.UUID, message *domain.Message) {
	c.push(&OutboundFrame{
		Type:           FrameMessage,
		ConversationID: conversationID,
		Message:        message,
	})
}

// OnMessageDeleted implements session.Listener
func (c *Client) OnMessageDeleted(conversationID uuid.UUID, messageID uuid.UUID) {
	c.push(&OutboundFrame{
		Type:           FrameMessageDeleted,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// OnSendFailed implements session.Listener
func (c *Client) OnSendFailed(conversationID uuid.UUID, content string, err error) {
	c.push(&OutboundFrame{
		Type:           FrameSendFailed,
		ConversationID: conversationID,
		Content:        content,
		Error:          errorText(err),
	})
}

// OnInboxEvent implements session.InboxListener
func (c *Client) OnInboxEvent(event *domain.Event) {
	c.push(&OutboundFrame{
		Type:  FrameInbox,
		Event: event,
	})
}

// OnInboxLost implements session.InboxListener
func (c *Client) OnInboxLost(err error) {
	c.push(&OutboundFrame{
		Type:  FrameError,
		Error: errorText(err),
	})
}

// push queues a frame for delivery, dropping it if the client cannot keep
// up. The session view self-heals on the next select.
func (c *Client) push(frame *OutboundFrame) {
	frame.Timestamp = time.Now()
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
		c.gateway.metrics.RecordWebSocketMessage(frame.Type, "out")
	default:
		c.gateway.metrics.RecordWebSocketError("slow_consumer")
	}
}

// pushError sends an error frame
func (c *Client) pushError(message string) {
	c.push(&OutboundFrame{Type: FrameError, Error: message})
}

// writePump writes queued frames and keepalive pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseRequiredID parses a required uuid field
func parseRequiredID(value *string) (uuid.UUID, error) {
	if value == nil {
		return uuid.Nil, apperrors.InvalidInputError("id is required")
	}
	return uuid.Parse(*value)
}

// errorText extracts a client-safe message from an error
func errorText(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.Message
	}
	return "internal error"
}
