package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"groupchat/internal/authz"
	"groupchat/internal/config"
	"groupchat/internal/store"
	"groupchat/internal/store/memstore"
	"groupchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type apiClient struct {
	t      *testing.T
	engine *gin.Engine
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWith(t, memstore.New())
}

func newTestAPIWith(t *testing.T, st store.Store) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", Env: "dev", JWTSecret: "secret", CallTokenSecret: "secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7, CallTokenTTLMinutes: 60}
	guard, err := authz.NewGuard(st)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	engine := SetupRouter(cfg, Deps{Store: st, Guard: guard, Hub: ws.NewHub()})
	return &apiClient{t: t, engine: engine}
}

func (a *apiClient) do(method, path, token string, body interface{}, out interface{}) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

// signup registers and logs in, returning the user id and access token.
func (a *apiClient) signup(name string) (uint, string) {
	a.t.Helper()
	var reg struct {
		ID uint `json:"id"`
	}
	if code := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": name, "password": "pw1234"}, &reg); code != http.StatusOK {
		a.t.Fatalf("register %s: status %d", name, code)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if code := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": name, "password": "pw1234"}, &login); code != http.StatusOK {
		a.t.Fatalf("login %s: status %d", name, code)
	}
	return reg.ID, login.AccessToken
}

type roomResp struct {
	Room struct {
		ID         uint   `json:"id"`
		InviteCode string `json:"invite_code"`
		Members    int64  `json:"members"`
	} `json:"room"`
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	if code := api.do(http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	if code := api.do(http.MethodGet, "/api/v1/rooms", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRoomMembershipFlow(t *testing.T) {
	api := newTestAPI(t)
	_, alice := api.signup("alice")
	bobID, bob := api.signup("bob")
	_, eve := api.signup("eve")

	var created roomResp
	if code := api.do(http.MethodPost, "/api/v1/rooms", alice, map[string]string{"name": "Hiking", "invite_code": "ab12cd34"}, &created); code != http.StatusCreated {
		t.Fatalf("create room: status %d", code)
	}
	roomPath := fmt.Sprintf("/api/v1/rooms/%d", created.Room.ID)
	if created.Room.InviteCode != "ab12cd34" || created.Room.Members != 1 {
		t.Fatalf("unexpected room %+v", created.Room)
	}

	if code := api.do(http.MethodPost, "/api/v1/rooms", eve, map[string]string{"name": "Copycat", "invite_code": "ab12cd34"}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate code: expected 409, got %d", code)
	}

	for i := 0; i < 2; i++ {
		var joined struct {
			RoomID uint `json:"room_id"`
		}
		if code := api.do(http.MethodPost, "/api/v1/rooms/join", bob, map[string]string{"code": "AB12CD34"}, &joined); code != http.StatusOK {
			t.Fatalf("join %d: status %d", i, code)
		}
		if joined.RoomID != created.Room.ID {
			t.Fatalf("join %d returned room %d", i, joined.RoomID)
		}
	}
	if code := api.do(http.MethodPost, "/api/v1/rooms/join", eve, map[string]string{"code": "zzzz9999"}, nil); code != http.StatusNotFound {
		t.Fatalf("unknown code: expected 404, got %d", code)
	}
	if code := api.do(http.MethodPost, "/api/v1/rooms/join", eve, map[string]string{"code": ""}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty code: expected 400, got %d", code)
	}

	var members struct {
		Members []struct {
			UserID uint `json:"user_id"`
		} `json:"members"`
	}
	if code := api.do(http.MethodGet, roomPath+"/members", alice, nil, &members); code != http.StatusOK || len(members.Members) != 2 {
		t.Fatalf("members: status %d, %+v", code, members)
	}
	if code := api.do(http.MethodGet, roomPath, eve, nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider read: expected 403, got %d", code)
	}

	if code := api.do(http.MethodPost, roomPath+"/messages", bob, map[string]string{"content": "hello"}, nil); code != http.StatusCreated {
		t.Fatalf("send: status %d", code)
	}
	var msgs struct {
		Messages []struct {
			Content     string `json:"content"`
			DisplayName string `json:"display_name"`
		} `json:"messages"`
	}
	if code := api.do(http.MethodGet, roomPath+"/messages?limit=10", alice, nil, &msgs); code != http.StatusOK {
		t.Fatalf("list messages: status %d", code)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].DisplayName != "bob" {
		t.Fatalf("messages = %+v", msgs.Messages)
	}

	kickPath := fmt.Sprintf("%s/members/%d", roomPath, bobID)
	if code := api.do(http.MethodDelete, kickPath, eve, nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider kick: expected 403, got %d", code)
	}
	if code := api.do(http.MethodDelete, kickPath, alice, nil, nil); code != http.StatusNoContent {
		t.Fatalf("kick: status %d", code)
	}
	if code := api.do(http.MethodGet, roomPath+"/messages", bob, nil, nil); code != http.StatusForbidden {
		t.Fatalf("kicked read: expected 403, got %d", code)
	}

	if code := api.do(http.MethodPost, roomPath+"/leave", alice, nil, nil); code != http.StatusForbidden {
		t.Fatalf("creator leave: expected 403, got %d", code)
	}
	if code := api.do(http.MethodDelete, roomPath, alice, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if code := api.do(http.MethodGet, roomPath, alice, nil, nil); code != http.StatusNotFound {
		t.Fatalf("deleted room: expected 404, got %d", code)
	}
}

func TestLeaveAndRooms(t *testing.T) {
	api := newTestAPI(t)
	_, alice := api.signup("alice")
	_, bob := api.signup("bob")

	var created roomResp
	api.do(http.MethodPost, "/api/v1/rooms", alice, map[string]string{"name": "Book club"}, &created)
	if created.Room.InviteCode == "" {
		t.Fatal("generated invite code missing")
	}
	api.do(http.MethodPost, "/api/v1/rooms/join", bob, map[string]string{"code": created.Room.InviteCode}, nil)

	var list struct {
		Rooms []struct {
			ID      uint  `json:"id"`
			Members int64 `json:"members"`
		} `json:"rooms"`
	}
	if code := api.do(http.MethodGet, "/api/v1/rooms", bob, nil, &list); code != http.StatusOK || len(list.Rooms) != 1 || list.Rooms[0].Members != 2 {
		t.Fatalf("rooms: status %d, %+v", code, list)
	}

	roomPath := fmt.Sprintf("/api/v1/rooms/%d", created.Room.ID)
	if code := api.do(http.MethodPost, roomPath+"/leave", bob, nil, nil); code != http.StatusNoContent {
		t.Fatalf("leave: status %d", code)
	}
	if code := api.do(http.MethodPost, roomPath+"/leave", bob, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second leave: expected 404, got %d", code)
	}
	list.Rooms = nil
	api.do(http.MethodGet, "/api/v1/rooms", bob, nil, &list)
	if len(list.Rooms) != 0 {
		t.Fatalf("bob still lists %d rooms", len(list.Rooms))
	}
}

func TestProfilesAndCallToken(t *testing.T) {
	api := newTestAPI(t)
	aliceID, alice := api.signup("alice")
	_, bob := api.signup("bob")
	profilePath := fmt.Sprintf("/api/v1/profiles/%d", aliceID)

	if code := api.do(http.MethodPut, profilePath, bob, map[string]string{"display_name": "mallory"}, nil); code != http.StatusForbidden {
		t.Fatalf("foreign update: expected 403, got %d", code)
	}
	var resp struct {
		Profile struct {
			DisplayName string `json:"display_name"`
		} `json:"profile"`
	}
	if code := api.do(http.MethodPut, profilePath, alice, map[string]string{"display_name": "Alice"}, &resp); code != http.StatusOK || resp.Profile.DisplayName != "Alice" {
		t.Fatalf("update: status %d, %+v", code, resp)
	}
	if code := api.do(http.MethodGet, profilePath, bob, nil, &resp); code != http.StatusOK || resp.Profile.DisplayName != "Alice" {
		t.Fatalf("get: status %d, %+v", code, resp)
	}

	if code := api.do(http.MethodPost, "/api/v1/push-tokens", alice, map[string]string{"token": "fcm-1", "platform": "ios"}, nil); code != http.StatusNoContent {
		t.Fatalf("push token: status %d", code)
	}
	if code := api.do(http.MethodDelete, "/api/v1/push-tokens", alice, map[string]string{"token": "fcm-1"}, nil); code != http.StatusNoContent {
		t.Fatalf("delete push token: status %d", code)
	}

	var created roomResp
	api.do(http.MethodPost, "/api/v1/rooms", alice, map[string]string{"name": "Standup"}, &created)
	callPath := fmt.Sprintf("/api/v1/rooms/%d/call-token", created.Room.ID)
	var tok struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	if code := api.do(http.MethodPost, callPath, alice, nil, &tok); code != http.StatusOK || tok.Role != "admin" || tok.Token == "" {
		t.Fatalf("call token: status %d, %+v", code, tok)
	}
	if code := api.do(http.MethodPost, callPath, bob, nil, nil); code != http.StatusForbidden {
		t.Fatalf("outsider call token: expected 403, got %d", code)
	}
}

type noMembershipStore struct {
	*memstore.Store
}

func (noMembershipStore) AddMember(context.Context, uint, uint) (bool, error) {
	return false, errors.New("membership insert failed")
}

func TestCreateRoomPartialFailure(t *testing.T) {
	api := newTestAPIWith(t, noMembershipStore{Store: memstore.New()})
	_, alice := api.signup("alice")

	var resp struct {
		Error string `json:"error"`
		Room  struct {
			ID         uint   `json:"id"`
			InviteCode string `json:"invite_code"`
		} `json:"room"`
	}
	if code := api.do(http.MethodPost, "/api/v1/rooms", alice, map[string]string{"name": "Half made", "invite_code": "half1234"}, &resp); code != http.StatusInternalServerError {
		t.Fatalf("create: expected 500, got %d", code)
	}
	if resp.Room.ID == 0 || resp.Room.InviteCode != "half1234" || resp.Error == "" {
		t.Fatalf("500 body should carry the created room, got %+v", resp)
	}

	var list struct {
		Rooms []struct {
			ID uint `json:"id"`
		} `json:"rooms"`
	}
	if code := api.do(http.MethodGet, "/api/v1/rooms", alice, nil, &list); code != http.StatusOK || len(list.Rooms) != 0 {
		t.Fatalf("creator should not be a member: status %d, %+v", code, list)
	}
}
