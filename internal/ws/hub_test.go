package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/vediclink/consult-api/internal/domain"
)

func TestHub_BroadcastMessage(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	customer := NewClient(hub, nil, uuid.New(), domain.RoleCustomer)
	astrologer := NewClient(hub, nil, uuid.New(), domain.RoleAstrologer)
	hub.Register(customer)
	hub.Register(astrologer)

	sessionID := uuid.New()
	sentAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	hub.BroadcastMessage(sessionID, customer.userID, astrologer.userID, "namaste", sentAt)

	for _, c := range []*Client{customer, astrologer} {
		select {
		case payload := <-c.send:
			var frame Envelope
			assert.NoError(t, json.Unmarshal(payload, &frame))
			assert.Equal(t, "message", frame.Type)
			assert.Equal(t, sessionID.String(), frame.SessionID)
			assert.Equal(t, "namaste", frame.Body)
		case <-time.After(time.Second):
			t.Fatal("no frame delivered")
		}
	}
}

func TestClient_WriteAfterHubClosedSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, uuid.New(), domain.RoleCustomer)
	hub.Register(client)

	// Fill the send buffer so the next error frame takes the overflow
	// path, which hands the client back to the hub for pruning.
	for i := 0; i < cap(client.send)+1; i++ {
		client.writeError("slow consumer")
	}

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.closed
	}, time.Second, 5*time.Millisecond, "hub never pruned the stalled client")

	// The read pump may still report errors after the hub gave up on
	// the connection; that must be a no-op, not a crash.
	assert.NotPanics(t, func() {
		client.writeError("still talking")
	})

	// And the hub side must tolerate a delivery to the pruned client.
	assert.NotPanics(t, func() {
		hub.BroadcastMessage(uuid.New(), client.userID, client.userID, "hello", time.Now())
		time.Sleep(20 * time.Millisecond)
	})
}
