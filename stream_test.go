package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadrimteam/goodfriend-relay/internal/events"
)

type sseStream struct {
	frames <-chan string
}

// openSSE connects to an SSE route and waits until the server has registered
// the subscription.
func openSSE(t *testing.T, srv *httptest.Server, path string) *sseStream {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header = subscriberHeaders()

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan string)
	go func() {
		defer close(frames)
		r := bufio.NewReader(resp.Body)
		var lines []string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line != "" {
				lines = append(lines, line)
				continue
			}
			if len(lines) == 0 {
				continue
			}
			select {
			case frames <- strings.Join(lines, "\n"):
				lines = nil
			case <-ctx.Done():
				return
			}
		}
	}()

	s := &sseStream{frames: frames}
	require.Equal(t, ": connected", s.next(t))
	return s
}

func (s *sseStream) next(t *testing.T) string {
	t.Helper()
	select {
	case f, ok := <-s.frames:
		require.True(t, ok, "stream ended")
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for a stream frame")
		return ""
	}
}

// nextEvent returns the next frame that is not a keepalive comment.
func (s *sseStream) nextEvent(t *testing.T) string {
	t.Helper()
	for {
		if f := s.next(t); f != ": keepalive" {
			return f
		}
	}
}

func (s *sseStream) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, "stream did not end")
		}
	}
}

func TestLoginStateReachesEarlierSubscribersOnly(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, testSettings())

	first := openSSE(t, srv, "/api/playerevents/stream")
	second := openSSE(t, srv, "/api/playerevents/stream")

	resp, _ := do(t, srv, http.MethodPost, "/api/playerevents/loginstate", loginBody, publisherHeaders(hashFor(1)))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	late := openSSE(t, srv, "/api/playerevents/stream")

	for _, s := range []*sseStream{first, second} {
		frame := s.nextEvent(t)
		event, data, ok := strings.Cut(frame, "\n")
		require.True(t, ok, frame)
		assert.Equal(t, "event: player_event", event)

		var got events.PlayerEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &got))
		assert.Equal(t, hashFor(1), got.ContentIDHash)
		assert.Equal(t, testSalt, got.ContentIDSalt)
		assert.Equal(t, events.LoginStateChange{DatacenterID: 1, WorldID: 73, TerritoryID: 129, LoggedIn: true}, got.Update)

		// Only keepalives follow.
		assert.Equal(t, ": keepalive", s.next(t))
	}

	assert.Equal(t, ": keepalive", late.next(t))
}

func TestSSEStreamDeliversInPublishOrder(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, testSettings())

	s := openSSE(t, srv, "/api/playerevents/stream")
	for i := 0; i < 5; i++ {
		resp, _ := do(t, srv, http.MethodPost, "/api/playerevents/world", `{"world_id":1}`, publisherHeaders(hashFor(i)))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	for i := 0; i < 5; i++ {
		frame := s.nextEvent(t)
		assert.Contains(t, frame, `"content_id_hash":"`+hashFor(i)+`"`)
	}
}

func TestStreamSkipsLagAndResumesFromOldest(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.PlayerEventsCapacity = 2
	app, srv := newTestServer(t, settings)

	topic := app.PlayerEvents
	sub := topic.Hub.Subscribe()
	defer sub.Close()
	for i := 0; i < 5; i++ {
		topic.Hub.Publish(events.PlayerEvent{
			ContentIDHash: hashFor(i),
			ContentIDSalt: testSalt,
			Update:        events.WorldChange{WorldID: uint32(i)},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var written []string
	send := func(ev events.PlayerEvent) error {
		written = append(written, ev.ContentIDHash)
		if len(written) == 2 {
			cancel()
		}
		return nil
	}
	idle := func() error {
		written = append(written, "keepalive")
		return nil
	}

	require.NoError(t, pump(ctx, app, topic, sub, send, idle))
	assert.Equal(t, []string{hashFor(3), hashFor(4)}, written)

	resp, data := do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `goodfriend_events_lagged_total{topic="player-events"} 3`)
}

func TestStreamsEndOnShutdown(t *testing.T) {
	t.Parallel()
	app, srv := newTestServer(t, testSettings())

	s := openSSE(t, srv, "/api/announcements/stream")
	app.EndStreams()
	s.waitClosed(t)

	assert.Eventually(t, func() bool {
		return app.Announcements.Hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSSERequiresClientKey(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, testSettings())

	h := subscriberHeaders()
	h.Del("X-Client-Key")
	resp, data := do(t, srv, http.MethodGet, "/api/playerevents/stream", "", h)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MissingKey", errorCode(t, data))
}

func TestWebSocketStream(t *testing.T) {
	t.Parallel()
	app, srv := newTestServer(t, testSettings())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/announcements/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, subscriberHeaders())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return app.Announcements.Hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, data := do(t, srv, http.MethodPost, "/api/announcements/send", `{"message":"Servers are back","cause":"automatic"}`, operatorHeaders())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var sent sendAnnouncementResponse
	require.NoError(t, json.Unmarshal(data, &sent))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage[events.Announcement]
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.AnnouncementEventName, msg.Event)
	assert.Equal(t, sent.ID, msg.Data.ID)
	assert.Equal(t, "Servers are back", msg.Data.Message)
	assert.Equal(t, events.CauseAutomatic, msg.Data.Cause)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		return app.Announcements.Hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
