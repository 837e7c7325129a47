// Package inbox exposes the conversation directory over HTTP.
package inbox

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"roomhub-messaging/internal/middleware"
	chatservice "roomhub-messaging/internal/service/chat"
	"roomhub-messaging/internal/service/directory"
	"roomhub-messaging/pkg/response"
)

// Handler handles inbox HTTP requests
type Handler struct {
	directoryService *directory.Service
	chatService      *chatservice.Service
}

// NewHandler creates a new inbox handler
func NewHandler(directoryService *directory.Service, chatService *chatservice.Service) *Handler {
	return &Handler{
		directoryService: directoryService,
		chatService:      chatService,
	}
}

// ListInbox retrieves the caller's conversations, newest activity first
// GET /v1/inbox?limit=50&offset=0
func (h *Handler) ListInbox(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	output, err := h.directoryService.ListInbox(c.Request.Context(), &directory.ListInboxInput{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": output.Conversations,
	})
}

// TotalUnread retrieves the caller's aggregate unread badge
// GET /v1/inbox/unread
func (h *Handler) TotalUnread(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	total, err := h.chatService.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"total_unread": total})
}
