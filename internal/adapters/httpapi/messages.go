package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// GetMessages returns the room's recent chat history. The room comes from
// the caller's token, not the path, so a token for one room cannot read
// another room's messages.
func (h *Handlers) GetMessages(c *gin.Context) {
	roomID := domain.RoomID(c.GetString("room_id"))
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)

	messages, err := h.Store.RecentMessages(c.Request.Context(), roomID, limit)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("room", string(roomID)).Msg("load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type registerFileRequest struct {
	Name     string `json:"name" binding:"required"`
	MimeType string `json:"mimetype" binding:"required"`
	Size     int64  `json:"size" binding:"required"`
}

// RegisterFile records metadata for a file shared into the room. The bytes
// themselves live in external storage.
func (h *Handlers) RegisterFile(c *gin.Context) {
	var req registerFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	meta := domain.FileMeta{
		ID:         uuid.NewString(),
		Name:       req.Name,
		MimeType:   req.MimeType,
		Size:       req.Size,
		RoomID:     domain.RoomID(c.GetString("room_id")),
		UploadedBy: c.GetString("display_name"),
		UploadedAt: time.Now(),
	}
	if err := h.Store.AddFile(c.Request.Context(), meta); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("register file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register file"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"file": meta})
}

// ListFiles returns the metadata of every file shared into the room.
func (h *Handlers) ListFiles(c *gin.Context) {
	roomID := domain.RoomID(c.GetString("room_id"))
	files, err := h.Store.Files(c.Request.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Str("room", string(roomID)).Msg("load files")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load files"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}
