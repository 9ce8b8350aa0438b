package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/galadrimteam/goodfriend-relay/internal/hub"
)

// streamContext returns a context that ends when either the request or the
// App ends.
func (a *App) streamContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(a.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// pump delivers events from sub through send until ctx ends or the hub
// closes. idle runs whenever no event arrived within the keepalive interval.
// Lagged events are skipped and counted.
func pump[T any](ctx context.Context, a *App, topic *Topic[T], sub *hub.Subscription[T], send func(T) error, idle func() error) error {
	keepAlive := a.keepAlive()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, keepAlive)
		ev, err := sub.Next(waitCtx)
		cancel()

		var lag *hub.LagError
		switch {
		case err == nil:
			if err := send(ev); err != nil {
				return err
			}
		case errors.As(err, &lag):
			a.metrics.lagged.WithLabelValues(topic.Name).Add(float64(lag.Skipped))
			a.logger.Debug("Stream client lagged", "topic", topic.Name, "skipped", lag.Skipped)
		case errors.Is(err, hub.ErrClosed), ctx.Err() != nil:
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			if err := idle(); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// serveSSE streams topic to the client as Server-Sent Events.
func serveSSE[T any](a *App, topic *Topic[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ctx, cancel := a.streamContext(r.Context())
		defer cancel()

		sub := topic.Hub.Subscribe()
		defer sub.Close()

		a.logger.Debug("Stream client connected", "topic", topic.Name, "transport", "sse")
		defer a.logger.Debug("Stream client disconnected", "topic", topic.Name, "transport", "sse")

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		send := func(ev T) error {
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Error("Failed to marshal stream event", "topic", topic.Name, "error", err)
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", topic.Event, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		idle := func() error {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		if err := pump(ctx, a, topic, sub, send, idle); err != nil {
			a.logger.Debug("Stream ended", "topic", topic.Name, "transport", "sse", "error", err)
		}
	}
}
