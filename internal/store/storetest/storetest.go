// Package storetest 是 store.Store 实现共用的一致性测试。
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"groupchat/internal/models"
	"groupchat/internal/store"
)

// Factory 每次调用返回一个空的 Store。
type Factory func(t *testing.T) store.Store

// Run 对实现执行全部一致性用例。
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("RefreshRotation", func(t *testing.T) { testRefreshRotation(t, newStore(t)) })
	t.Run("InviteCodeUnique", func(t *testing.T) { testInviteCodeUnique(t, newStore(t)) })
	t.Run("Membership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("ConcurrentAddMember", func(t *testing.T) { testConcurrentAddMember(t, newStore(t)) })
	t.Run("DeleteRoomCascades", func(t *testing.T) { testDeleteRoomCascades(t, newStore(t)) })
	t.Run("MessagePaging", func(t *testing.T) { testMessagePaging(t, newStore(t)) })
	t.Run("MessageRequiresMembership", func(t *testing.T) { testMessageRequiresMembership(t, newStore(t)) })
	t.Run("PushTokens", func(t *testing.T) { testPushTokens(t, newStore(t)) })
}

func mustUser(t *testing.T, st store.Store, name string) uint {
	t.Helper()
	u := &models.User{Username: name, PasswordHash: "x"}
	if err := st.CreateUser(context.Background(), u, &models.Profile{DisplayName: name}); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u.ID
}

func mustRoom(t *testing.T, st store.Store, creator uint, code string) *models.Room {
	t.Helper()
	r := &models.Room{Name: "room-" + code, CreatorID: creator}
	if code != "" {
		r.InviteCode = &code
	}
	if err := st.CreateRoom(context.Background(), r); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func testUsers(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := mustUser(t, st, "alice")
	err := st.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "y"}, &models.Profile{DisplayName: "dup"})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate username: got %v", err)
	}
	u, err := st.GetUserByUsername(ctx, "alice")
	if err != nil || u.ID != id {
		t.Fatalf("GetUserByUsername = %+v, %v", u, err)
	}
	if _, err := st.GetUser(ctx, id+1000); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing user: got %v", err)
	}

	p, err := st.GetProfile(ctx, id)
	if err != nil || p.DisplayName != "alice" {
		t.Fatalf("GetProfile = %+v, %v", p, err)
	}
	p.DisplayName = "Alice"
	p.AvatarURL = "https://cdn.example.com/a.png"
	if err := st.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	ps, err := st.ListProfiles(ctx, []uint{id, id + 1000})
	if err != nil || len(ps) != 1 || ps[0].DisplayName != "Alice" {
		t.Fatalf("ListProfiles = %+v, %v", ps, err)
	}
	if err := st.UpdateProfile(ctx, &models.Profile{UserID: id + 1000, DisplayName: "ghost"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update missing profile: got %v", err)
	}
}

func testRefreshRotation(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := mustUser(t, st, "alice")
	exp := time.Now().Add(time.Hour)
	if err := st.SaveRefreshToken(ctx, id, "r1", exp); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.RotateRefreshToken(ctx, "r1", "r2", exp)
	if err != nil || got != id {
		t.Fatalf("rotate = %d, %v", got, err)
	}
	if _, err := st.RotateRefreshToken(ctx, "r1", "r3", exp); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reuse of revoked token: got %v", err)
	}
	if err := st.SaveRefreshToken(ctx, id, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if _, err := st.RotateRefreshToken(ctx, "old", "r4", exp); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expired token: got %v", err)
	}
}

func testInviteCodeUnique(t *testing.T, st store.Store) {
	ctx := context.Background()
	id := mustUser(t, st, "alice")
	first := mustRoom(t, st, id, "ab12cd34")

	code := "ab12cd34"
	dup := &models.Room{Name: "copy", CreatorID: id, InviteCode: &code}
	if err := st.CreateRoom(ctx, dup); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("duplicate invite code: got %v", err)
	}
	rooms, err := st.ListRoomsForUser(ctx, id)
	if err != nil || len(rooms) != 0 {
		t.Fatalf("creator is not a member yet, got %+v, %v", rooms, err)
	}

	// 没有邀请码的房间可以有多个
	mustRoom(t, st, id, "")
	mustRoom(t, st, id, "")

	r, err := st.GetRoomByInviteCode(ctx, "ab12cd34")
	if err != nil || r.ID != first.ID {
		t.Fatalf("GetRoomByInviteCode = %+v, %v", r, err)
	}
	if _, err := st.GetRoomByInviteCode(ctx, "zzzz9999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown code: got %v", err)
	}
}

func testMembership(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	r := mustRoom(t, st, alice, "ab12cd34")

	for i, want := range []bool{true, false} {
		added, err := st.AddMember(ctx, r.ID, bob)
		if err != nil || added != want {
			t.Fatalf("AddMember #%d = %v, %v; want %v", i, added, err, want)
		}
	}
	if _, err := st.AddMember(ctx, r.ID+1000, bob); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("add to missing room: got %v", err)
	}
	if _, err := st.AddMember(ctx, r.ID, alice); err != nil {
		t.Fatalf("add creator: %v", err)
	}
	n, err := st.CountMembers(ctx, r.ID)
	if err != nil || n != 2 {
		t.Fatalf("CountMembers = %d, %v", n, err)
	}
	ms, err := st.ListMembers(ctx, r.ID)
	if err != nil || len(ms) != 2 {
		t.Fatalf("ListMembers = %+v, %v", ms, err)
	}
	rooms, err := st.ListRoomsForUser(ctx, bob)
	if err != nil || len(rooms) != 1 || rooms[0].ID != r.ID {
		t.Fatalf("ListRoomsForUser = %+v, %v", rooms, err)
	}

	removed, err := st.RemoveMember(ctx, r.ID, bob)
	if err != nil || !removed {
		t.Fatalf("RemoveMember = %v, %v", removed, err)
	}
	removed, err = st.RemoveMember(ctx, r.ID, bob)
	if err != nil || removed {
		t.Fatalf("second RemoveMember = %v, %v", removed, err)
	}
	if ok, _ := st.IsMember(ctx, r.ID, bob); ok {
		t.Fatal("bob is still a member")
	}
}

func testConcurrentAddMember(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	r := mustRoom(t, st, alice, "ab12cd34")

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := st.AddMember(ctx, r.ID, bob)
			if err != nil {
				t.Errorf("AddMember: %v", err)
				return
			}
			if added {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("%d inserts reported, want 1", inserted)
	}
	if n, _ := st.CountMembers(ctx, r.ID); n != 1 {
		t.Fatalf("CountMembers = %d, want 1", n)
	}
}

func testDeleteRoomCascades(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	r := mustRoom(t, st, alice, "ab12cd34")
	if _, err := st.AddMember(ctx, r.ID, alice); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := st.CreateMessage(ctx, &models.Message{RoomID: r.ID, UserID: alice, Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if err := st.DeleteRoom(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if err := st.DeleteRoom(ctx, r.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second DeleteRoom: got %v", err)
	}
	if n, _ := st.CountMembers(ctx, r.ID); n != 0 {
		t.Fatalf("members left after delete: %d", n)
	}
	if msgs, _ := st.ListMessages(ctx, r.ID, 10, 0); len(msgs) != 0 {
		t.Fatalf("messages left after delete: %d", len(msgs))
	}
	if _, err := st.GetRoomByInviteCode(ctx, "ab12cd34"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("code still resolves: %v", err)
	}
	// 删除后邀请码可以被重新使用
	mustRoom(t, st, alice, "ab12cd34")
}

func testMessagePaging(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	r := mustRoom(t, st, alice, "")
	other := mustRoom(t, st, alice, "")
	for _, room := range []*models.Room{r, other} {
		if _, err := st.AddMember(ctx, room.ID, alice); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	var ids []uint
	for i := 0; i < 5; i++ {
		m := &models.Message{RoomID: r.ID, UserID: alice, Content: string(rune('a' + i))}
		if err := st.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}
	if err := st.CreateMessage(ctx, &models.Message{RoomID: other.ID, UserID: alice, Content: "x"}); err != nil {
		t.Fatalf("CreateMessage other: %v", err)
	}

	latest, err := st.ListMessages(ctx, r.ID, 2, 0)
	if err != nil || len(latest) != 2 || latest[0].ID != ids[3] || latest[1].ID != ids[4] {
		t.Fatalf("latest page = %+v, %v", latest, err)
	}
	older, err := st.ListMessages(ctx, r.ID, 10, ids[3])
	if err != nil || len(older) != 3 || older[0].ID != ids[0] || older[2].ID != ids[2] {
		t.Fatalf("older page = %+v, %v", older, err)
	}
}

func testPushTokens(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")

	for _, tok := range []models.PushToken{
		{UserID: alice, Token: "a1", Platform: "ios"},
		{UserID: alice, Token: "a1", Platform: "android"},
		{UserID: alice, Token: "a2", Platform: "web"},
		{UserID: bob, Token: "b1", Platform: "android"},
	} {
		tok := tok
		if err := st.SavePushToken(ctx, &tok); err != nil {
			t.Fatalf("SavePushToken: %v", err)
		}
	}
	toks, err := st.ListPushTokens(ctx, []uint{alice})
	if err != nil || len(toks) != 2 {
		t.Fatalf("ListPushTokens = %+v, %v", toks, err)
	}
	for _, tok := range toks {
		if tok.Token == "a1" && tok.Platform != "android" {
			t.Fatalf("upsert kept platform %q", tok.Platform)
		}
	}

	if err := st.DeletePushToken(ctx, alice, "a2"); err != nil {
		t.Fatalf("DeletePushToken: %v", err)
	}
	if err := st.DeletePushToken(ctx, alice, "a2"); err != nil {
		t.Fatalf("DeletePushToken twice: %v", err)
	}
	n, err := st.DeletePushTokens(ctx, []string{"a1", "b1", "nope"})
	if err != nil || n != 2 {
		t.Fatalf("DeletePushTokens = %d, %v", n, err)
	}
	if toks, _ := st.ListPushTokens(ctx, []uint{alice, bob}); len(toks) != 0 {
		t.Fatalf("tokens left: %+v", toks)
	}
}

func testMessageRequiresMembership(t *testing.T, st store.Store) {
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")
	r := mustRoom(t, st, alice, "")
	for _, uid := range []uint{alice, bob} {
		if _, err := st.AddMember(ctx, r.ID, uid); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}
	if err := st.CreateMessage(ctx, &models.Message{RoomID: r.ID, UserID: bob, Content: "before"}); err != nil {
		t.Fatalf("member CreateMessage: %v", err)
	}
	if _, err := st.RemoveMember(ctx, r.ID, bob); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	carol := mustUser(t, st, "carol")
	cases := []struct {
		name   string
		roomID uint
		userID uint
		want   error
	}{
		{"removed member", r.ID, bob, store.ErrNotMember},
		{"never joined", r.ID, carol, store.ErrNotMember},
		{"unknown room", r.ID + 1000, alice, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &models.Message{RoomID: tc.roomID, UserID: tc.userID, Content: "after"}
			if err := st.CreateMessage(ctx, m); !errors.Is(err, tc.want) {
				t.Fatalf("CreateMessage: got %v, want %v", err, tc.want)
			}
		})
	}
	msgs, err := st.ListMessages(ctx, r.ID, 10, 0)
	if err != nil || len(msgs) != 1 || msgs[0].Content != "before" {
		t.Fatalf("stored messages = %+v, %v", msgs, err)
	}
}
