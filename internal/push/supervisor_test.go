package push

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyService struct {
	runs chan struct{}
}

func (f *flakyService) Serve(ctx context.Context) error {
	f.runs <- struct{}{}
	return errors.New("crashed")
}

func TestSupervisorRestartsCrashedService(t *testing.T) {
	sup := NewSupervisor("test")
	svc := &flakyService{runs: make(chan struct{}, 8)}
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := sup.ServeBackground(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-svc.runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("service was not restarted (run %d)", i)
		}
	}
	cancel()
	<-done
}

func TestHTTPServiceStopsOnCancel(t *testing.T) {
	svc := NewHTTPService("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
