package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nkmrt3/frnchat/internal/chat"
	"github.com/nkmrt3/frnchat/internal/db"
	"github.com/nkmrt3/frnchat/internal/models"
)

type sender interface {
	Send(ctx context.Context, input chat.SendInput) (*chat.Result, error)
}

type Handler struct {
	store  db.ConversationStore
	chat   sender
	logger *zap.Logger
}

func NewHandler(store db.ConversationStore, orchestrator *chat.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, chat: orchestrator, logger: logger}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	apiGroup := router.Group("/api")

	conversations := apiGroup.Group("/conversations")
	conversations.GET("", h.handleListConversations)
	conversations.POST("", h.handleCreateConversation)
	conversations.GET("/:id", h.handleGetConversation)
	conversations.PATCH("/:id", h.handleUpdateConversation)
	conversations.DELETE("/:id", h.handleDeleteConversation)

	apiGroup.POST("/chat", h.handleChat)
}

type createConversationRequest struct {
	Title string `json:"title"`
}

type updateConversationRequest struct {
	Title *string `json:"title"`
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Message      string               `json:"message"`
	Conversation *models.Conversation `json:"conversation"`
}

const errConversationNotFound = "Conversation not found"

func (h *Handler) handleListConversations(c *gin.Context) {
	conversations, err := h.store.ListConversations(c.Request.Context())
	if err != nil {
		h.logger.Error("list conversations failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to list conversations", err)
		return
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *Handler) handleCreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	conv, err := h.store.CreateConversation(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("create conversation failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to create conversation", err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) handleGetConversation(c *gin.Context) {
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, "failed to get conversation", err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *Handler) handleUpdateConversation(c *gin.Context) {
	var req updateConversationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		conv *models.Conversation
		err  error
	)
	if req.Title != nil && strings.TrimSpace(*req.Title) != "" {
		conv, err = h.store.UpdateTitle(ctx, id, strings.TrimSpace(*req.Title))
	} else {
		conv, err = h.store.GetConversation(ctx, id)
	}
	if err != nil {
		h.writeStoreError(c, "failed to update conversation", err)
		return
	}

	c.JSON(http.StatusOK, conv)
}

func (h *Handler) handleDeleteConversation(c *gin.Context) {
	if err := h.store.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		h.writeStoreError(c, "failed to delete conversation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result, err := h.chat.Send(c.Request.Context(), chat.SendInput{
		Message:        req.Message,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			writeError(c, http.StatusBadRequest, "Message is required", err)
			return
		}
		h.logger.Error("chat turn failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		writeError(c, http.StatusInternalServerError, err.Error(), err)
		return
	}

	h.logger.Debug("chat turn finished",
		zap.String("conversation_id", result.Conversation.ID),
		zap.Stringer("outcome", result.Outcome),
		zap.Bool("created", result.Created))

	c.JSON(http.StatusOK, chatResponse{
		Message:      result.Reply,
		Conversation: result.Conversation,
	})
}

func (h *Handler) writeStoreError(c *gin.Context, message string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, errConversationNotFound, err)
		return
	}

	h.logger.Error(message, zap.String("conversation_id", c.Param("id")), zap.Error(err))
	writeError(c, http.StatusInternalServerError, message, err)
}

// bindOptionalJSON decodes the body when one was sent; an empty body, including
// a chunked one of unknown length, is a zero request.
func bindOptionalJSON(c *gin.Context, out any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
