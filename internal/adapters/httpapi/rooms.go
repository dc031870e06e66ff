package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/store"
)

// Handlers carries the REST surface's collaborators.
type Handlers struct {
	Store      store.Store
	Secret     string
	TokenTTL   time.Duration
	ICEServers []string
}

type createRoomRequest struct {
	RoomName    string `json:"roomName" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Description string `json:"description"`
	Identity    string `json:"identity" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

type joinRoomRequest struct {
	RoomName    string `json:"roomName" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Identity    string `json:"identity" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

type roomView struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	Description string          `json:"description"`
}

// CreateRoom registers a new password-protected room.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.RoomName) > domain.MaxRoomNameLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room name too long"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	room := domain.Room{
		ID:           domain.RoomID(uuid.NewString()),
		Name:         domain.RoomName(req.RoomName),
		Description:  req.Description,
		PasswordHash: string(hash),
		CreatedBy:    req.DisplayName,
		CreatedAt:    time.Now(),
	}
	if err := h.Store.CreateRoom(c.Request.Context(), room); err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
			return
		}
		log.Error().Err(err).Str("module", "httpapi").Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}

	creator := domain.User{ID: domain.UserID(req.Identity), DisplayName: req.DisplayName}
	if err := h.Store.AddParticipant(c.Request.Context(), room.ID, creator); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("add creator")
	}

	log.Info().Str("module", "httpapi").Str("room", string(room.ID)).Str("name", req.RoomName).Msg("room created")
	c.JSON(http.StatusCreated, gin.H{
		"message": "room created",
		"room":    roomView{ID: room.ID, Name: room.Name, Description: room.Description},
	})
}

// JoinRoom checks the password and answers with a join token that gates the
// signaling websocket, plus the room snapshot the client renders first.
func (h *Handlers) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.Store.RoomByName(c.Request.Context(), domain.RoomName(req.RoomName))
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		log.Error().Err(err).Str("module", "httpapi").Msg("lookup room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect password"})
		return
	}

	user := domain.User{ID: domain.UserID(req.Identity), DisplayName: req.DisplayName}
	if err := h.Store.AddParticipant(c.Request.Context(), room.ID, user); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("add participant")
	}

	token, err := mintRoomToken(h.Secret, h.TokenTTL, room.ID, user)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("mint token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}

	participants, err := h.Store.Participants(c.Request.Context(), room.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("list participants")
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        token,
		"room":         roomView{ID: room.ID, Name: room.Name, Description: room.Description},
		"participants": participants,
		"iceServers":   h.ICEServers,
	})
}

// GetRoom returns room meta and persisted participants. The token scopes the
// caller to one room; a path naming any other room is refused.
func (h *Handlers) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	if roomID != domain.RoomID(c.GetString("room_id")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this room"})
		return
	}
	room, err := h.Store.RoomByID(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	participants, err := h.Store.Participants(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":         roomView{ID: room.ID, Name: room.Name, Description: room.Description},
		"participants": participants,
	})
}

// LeaveRoom removes the caller from the persisted participant list. Live
// presence cleanup (and the delayed record cleanup) is the coordinator's
// job; this endpoint only keeps the stored roster honest.
func (h *Handlers) LeaveRoom(c *gin.Context) {
	roomID := domain.RoomID(c.GetString("room_id"))
	identity := domain.UserID(c.GetString("identity"))
	if err := h.Store.RemoveParticipant(c.Request.Context(), roomID, identity); err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("remove participant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left room"})
}
