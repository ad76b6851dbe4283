package memstore

import (
	"context"
	"testing"

	"groupchat/internal/store"
	"groupchat/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestListMessagesUnknownCursor(t *testing.T) {
	st := New()
	msgs, err := st.ListMessages(context.Background(), 1, 10, 42)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("ListMessages = %+v, %v", msgs, err)
	}
}
