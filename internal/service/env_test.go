package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"groupchat/internal/authz"
	"groupchat/internal/config"
	"groupchat/internal/events"
	"groupchat/internal/models"
	"groupchat/internal/store/memstore"
)

// recorder captures broadcasts and evictions in place of ws.Hub.
type recorder struct {
	mu      sync.Mutex
	events  []interface{}
	evicted [][2]uint
	closed  []uint
}

func (r *recorder) Broadcast(_ uint, v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
}

func (r *recorder) Evict(roomID, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, [2]uint{roomID, userID})
}

func (r *recorder) CloseRoom(roomID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, roomID)
}

func (r *recorder) Online(uint) int { return 0 }

func (r *recorder) roomEvents(typ string) []RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RoomEvent
	for _, v := range r.events {
		if e, ok := v.(RoomEvent); ok && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.MessageCreated
}

func (p *capturePublisher) PublishMessage(_ context.Context, e events.MessageCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type testEnv struct {
	store    *memstore.Store
	rt       *recorder
	bus      *capturePublisher
	users    *UserService
	rooms    *RoomService
	messages *MessageService
	profiles *ProfileService
	calls    *CallService
}

func testConfig() config.Config {
	return config.Config{
		Env:                   "dev",
		JWTSecret:             "secret",
		CallTokenSecret:       "call-secret",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		CallTokenTTLMinutes:   60,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	guard, err := authz.NewGuard(st)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	cfg := testConfig()
	env := &testEnv{store: st, rt: &recorder{}, bus: &capturePublisher{}}
	env.users = NewUserService(st, cfg)
	env.rooms = NewRoomService(st, guard, env.rt)
	env.messages = NewMessageService(st, guard, env.rt, env.bus)
	env.profiles = NewProfileService(st)
	env.calls = NewCallService(guard, cfg.CallTokenSecret, time.Duration(cfg.CallTokenTTLMinutes)*time.Minute)
	return env
}

// user writes straight to the store, skipping bcrypt.
func (e *testEnv) user(t *testing.T, name string) uint {
	t.Helper()
	u := models.User{Username: name, PasswordHash: "x"}
	p := models.Profile{DisplayName: name}
	if err := e.store.CreateUser(context.Background(), &u, &p); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u.ID
}

// fixedCodes yields the given codes in order, then repeats the last one.
func fixedCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}
