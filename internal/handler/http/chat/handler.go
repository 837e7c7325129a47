// Package chat exposes conversation and message operations over HTTP.
package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"roomhub-messaging/internal/middleware"
	chatservice "roomhub-messaging/internal/service/chat"
	"roomhub-messaging/internal/service/resolver"
	"roomhub-messaging/pkg/pagination"
	"roomhub-messaging/pkg/response"
)

// Handler handles conversation and message HTTP requests
type Handler struct {
	resolverService *resolver.Service
	chatService     *chatservice.Service
}

// NewHandler creates a new chat handler
func NewHandler(resolverService *resolver.Service, chatService *chatservice.Service) *Handler {
	return &Handler{
		resolverService: resolverService,
		chatService:     chatService,
	}
}

// ResolveConversationRequest represents a conversation resolve request
type ResolveConversationRequest struct {
	PartnerID string  `json:"partner_id" binding:"required"`
	ListingID *string `json:"listing_id"`
}

// ResolveConversation finds or creates the conversation with a partner
// POST /v1/conversations/resolve
func (h *Handler) ResolveConversation(c *gin.Context) {
	var req ResolveConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	partnerID, err := uuid.Parse(req.PartnerID)
	if err != nil {
		response.ValidationError(c, "Invalid partner ID")
		return
	}

	var listingID *uuid.UUID
	if req.ListingID != nil {
		id, err := uuid.Parse(*req.ListingID)
		if err != nil {
			response.ValidationError(c, "Invalid listing ID")
			return
		}
		listingID = &id
	}

	resolved, err := h.resolverService.Resolve(c.Request.Context(), userID, partnerID, listingID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	status := http.StatusOK
	if resolved.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, resolved)
}

// GetMessages retrieves a page of conversation history
// GET /v1/conversations/:id/messages?limit=300&cursor=...
func (h *Handler) GetMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err = pagination.ParseLimit(limitStr)
		if err != nil {
			response.ValidationError(c, "Invalid limit")
			return
		}
	}

	var cursor *pagination.Cursor
	if cursorStr := c.Query("cursor"); cursorStr != "" {
		cursor, err = pagination.DecodeCursor(cursorStr)
		if err != nil {
			response.ValidationError(c, "Invalid cursor")
			return
		}
	}

	output, err := h.chatService.GetMessages(c.Request.Context(), &chatservice.GetMessagesInput{
		ConversationID: conversationID,
		ReaderID:       userID,
		Limit:          limit,
		Cursor:         cursor,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":    output.Messages,
		"next_cursor": output.NextCursor,
	})
}

// SendMessageRequest represents a message send request
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage appends a message to a conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.chatService.SendMessage(c.Request.Context(), &chatservice.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        req.Content,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, output.Message)
}

// MarkRead zeroes the caller's unread counter for a conversation
// POST /v1/conversations/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"read": true})
}

// GetReadState retrieves the caller's read cursor for a conversation
// GET /v1/conversations/:id/read
func (h *Handler) GetReadState(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	state, err := h.chatService.GetReadState(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// DeleteMessage soft-deletes a message the caller sent
// DELETE /v1/messages/:id
func (h *Handler) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid message ID")
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.DeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
