package ws

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Add(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	sent := JobEvent{
		JobID:      "job-1",
		UserID:     "alice",
		ActionName: "pe-enable",
		Status:     "SUCCESS",
		Timestamp:  time.Now().UTC(),
	}
	hub.Broadcast(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got JobEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.JobID != sent.JobID || got.Status != sent.Status || got.UserID != sent.UserID {
		t.Fatalf("event mismatch: %+v", got)
	}
}

// Job create and job finish can broadcast from different request handlers at
// the same time; the per-client writer goroutine must keep those writes from
// ever touching the connection concurrently.
func TestHubConcurrentBroadcast(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	received := make(chan int, 1)
	go func() {
		n := 0
		for {
			var ev JobEvent
			if err := conn.ReadJSON(&ev); err != nil {
				received <- n
				return
			}
			if ev.JobID == "" || ev.Status == "" {
				t.Errorf("corrupt event: %+v", ev)
			}
			n++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Broadcast(JobEvent{
					JobID:  fmt.Sprintf("job-%d-%d", i, j),
					UserID: "alice",
					Status: "SUCCESS",
				})
			}
		}(i)
	}
	wg.Wait()

	conn.Close()
	if n := <-received; n == 0 {
		t.Fatal("no events delivered")
	}
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not removed, count=%d", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
