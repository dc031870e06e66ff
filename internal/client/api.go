package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/wire"
)

// API is a thin client for the room REST surface: create a room, trade a
// password for a join token, fetch history.
type API struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// RoomInfo is the room metadata the server shares with clients.
type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	Description string          `json:"description"`
}

// JoinResult is the answer to a successful join: the token that gates the
// signaling websocket plus the initial room snapshot.
type JoinResult struct {
	Token        string             `json:"token"`
	Room         RoomInfo           `json:"room"`
	Participants []wire.Participant `json:"participants"`
	ICEServers   []string           `json:"iceServers"`
}

// CreateRoom registers a new password-protected room.
func (a *API) CreateRoom(ctx context.Context, name, password, description string, user domain.User) (RoomInfo, error) {
	body := map[string]string{
		"roomName":    name,
		"password":    password,
		"description": description,
		"identity":    string(user.ID),
		"displayName": user.DisplayName,
	}
	var out struct {
		Room RoomInfo `json:"room"`
	}
	if err := a.post(ctx, "/api/rooms", body, &out); err != nil {
		return RoomInfo{}, err
	}
	return out.Room, nil
}

// JoinRoom trades the room password for a join token.
func (a *API) JoinRoom(ctx context.Context, name, password string, user domain.User) (JoinResult, error) {
	body := map[string]string{
		"roomName":    name,
		"password":    password,
		"identity":    string(user.ID),
		"displayName": user.DisplayName,
	}
	var out JoinResult
	if err := a.post(ctx, "/api/rooms/join", body, &out); err != nil {
		return JoinResult{}, err
	}
	return out, nil
}

// Messages fetches persisted chat history for the token's room.
func (a *API) Messages(ctx context.Context, token string, limit int) ([]domain.Message, error) {
	path := fmt.Sprintf("/api/messages?limit=%d", limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
		return fmt.Errorf("server: %s (%s)", e.Error, resp.Status)
	}
	return fmt.Errorf("server: %s", resp.Status)
}
