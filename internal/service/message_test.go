package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"groupchat/internal/authz"
	"groupchat/internal/models"
	"groupchat/internal/store/memstore"
)

func TestSendAndListMessages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.rooms.WithCodeGenerator(fixedCodes("msgs1234"), 0)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	room, _ := env.rooms.Create(ctx, alice, CreateRoomInput{Name: "Hiking"})
	if _, err := env.rooms.JoinByCode(ctx, bob, "msgs1234"); err != nil {
		t.Fatalf("join: %v", err)
	}

	for i, c := range []string{"one", "two", "three"} {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		if _, err := env.messages.Send(ctx, room.ID, sender, SendMessageInput{Content: c}); err != nil {
			t.Fatalf("send %q: %v", c, err)
		}
	}

	msgs, err := env.messages.List(ctx, room.ID, bob, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("messages not in ascending order: %+v", msgs)
	}
	if msgs[1].DisplayName != "bob" || msgs[1].Type != EventMessage {
		t.Fatalf("unexpected second message %+v", msgs[1])
	}

	page, err := env.messages.List(ctx, room.ID, alice, 1, msgs[2].ID)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 1 || page[0].ID != msgs[1].ID {
		t.Fatalf("before_id page = %+v, want message %d", page, msgs[1].ID)
	}

	if len(env.bus.events) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(env.bus.events))
	}
	e := env.bus.events[1]
	if e.RoomName != "Hiking" || e.SenderName != "bob" || e.UserID != bob || e.MessageID != msgs[1].ID {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestSendMessageRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	eve := env.user(t, "eve")
	room, _ := env.rooms.Create(ctx, alice, CreateRoomInput{Name: "r"})

	tests := []struct {
		name string
		user uint
		room uint
		in   SendMessageInput
		want error
	}{
		{"outsider", eve, room.ID, SendMessageInput{Content: "hi"}, ErrNotRoomMember},
		{"missing room", alice, 999, SendMessageInput{Content: "hi"}, ErrRoomNotFound},
		{"empty", alice, room.ID, SendMessageInput{Content: "   "}, ErrValidation},
		{"only markup", alice, room.ID, SendMessageInput{Content: "<script>alert(1)</script>"}, ErrValidation},
		{"too long", alice, room.ID, SendMessageInput{Content: strings.Repeat("a", 4001)}, ErrValidation},
		{"bad file url", alice, room.ID, SendMessageInput{FileURL: "not a url"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.messages.Send(ctx, tt.room, tt.user, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
	if len(env.bus.events) != 0 {
		t.Fatalf("rejected sends must not publish, got %d events", len(env.bus.events))
	}
}

func TestSendMessageSanitizesContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	room, _ := env.rooms.Create(ctx, alice, CreateRoomInput{Name: "r"})

	msg, err := env.messages.Send(ctx, room.ID, alice, SendMessageInput{Content: "<b>Tom</b> & Jerry"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Content != "Tom & Jerry" {
		t.Fatalf("content = %q", msg.Content)
	}

	msg, err = env.messages.Send(ctx, room.ID, alice, SendMessageInput{FileURL: "https://cdn.example.com/a.png"})
	if err != nil {
		t.Fatalf("send file: %v", err)
	}
	if msg.FileURL != "https://cdn.example.com/a.png" || msg.Content != "" {
		t.Fatalf("unexpected file message %+v", msg)
	}
	if !env.bus.events[1].HasFile {
		t.Fatal("event should flag the attachment")
	}
}

// kickAfterCheck removes a member right after the guard has confirmed the
// membership, so the removal lands between authorization and insert.
type kickAfterCheck struct {
	*memstore.Store
	once sync.Once
}

func (s *kickAfterCheck) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	ok, err := s.Store.IsMember(ctx, roomID, userID)
	if ok {
		s.once.Do(func() { _, _ = s.Store.RemoveMember(ctx, roomID, userID) })
	}
	return ok, err
}

func TestSendRejectsMemberRemovedAfterCheck(t *testing.T) {
	ctx := context.Background()
	st := &kickAfterCheck{Store: memstore.New()}
	guard, err := authz.NewGuard(st)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	rt, bus := &recorder{}, &capturePublisher{}
	messages := NewMessageService(st, guard, rt, bus)

	alice := &models.User{Username: "alice", PasswordHash: "x"}
	bob := &models.User{Username: "bob", PasswordHash: "x"}
	for _, u := range []*models.User{alice, bob} {
		if err := st.CreateUser(ctx, u, &models.Profile{DisplayName: u.Username}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	room := &models.Room{Name: "Hiking", CreatorID: alice.ID}
	if err := st.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, u := range []*models.User{alice, bob} {
		if _, err := st.AddMember(ctx, room.ID, u.ID); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	_, err = messages.Send(ctx, room.ID, bob.ID, SendMessageInput{Content: "sneaky"})
	if !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("send after removal: want ErrNotRoomMember, got %v", err)
	}
	if still, _ := st.Store.IsMember(ctx, room.ID, bob.ID); still {
		t.Fatal("bob should no longer be a member")
	}
	if msgs, _ := st.ListMessages(ctx, room.ID, 10, 0); len(msgs) != 0 {
		t.Fatalf("message from removed member was stored: %+v", msgs)
	}
	if len(rt.events) != 0 || len(bus.events) != 0 {
		t.Fatalf("rejected message was broadcast (%d) or published (%d)", len(rt.events), len(bus.events))
	}
}
