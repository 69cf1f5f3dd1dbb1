package sse

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func waitForClients(t *testing.T, b *Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, b.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBrokerStreamsInvalidationEvents(t *testing.T) {
	broker := NewBroker()
	defer broker.Stop()

	srv := httptest.NewServer(broker)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// First event is the connected handshake.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read handshake: %v", err)
	}
	if !strings.HasPrefix(line, "event: connected") {
		t.Fatalf("expected connected event, got %q", line)
	}

	waitForClients(t, broker, 1)
	broker.OnInvalidated([]string{"Apps", "Notes"})

	var eventLine, dataLine string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if strings.HasPrefix(line, "event: entity_invalidated") {
			eventLine = line
			dataLine, err = reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed to read event data: %v", err)
			}
			break
		}
	}
	if eventLine == "" {
		t.Fatal("never received entity_invalidated event")
	}
	if !strings.Contains(dataLine, `"Apps"`) || !strings.Contains(dataLine, `"Notes"`) {
		t.Fatalf("expected both entities in payload, got %q", dataLine)
	}
}

func TestBroadcastDoesNotBlockWithoutClients(t *testing.T) {
	broker := NewBroker()
	defer broker.Stop()

	// Far more events than the queue holds; Broadcast must drop, not block.
	for i := 0; i < 500; i++ {
		broker.Broadcast(Event{Type: EventEntityInvalidated, Data: nil})
	}
}
