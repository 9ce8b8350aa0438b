package main

// StreamMessage is one WebSocket frame. The event name tells clients how to
// decode Data, mirroring the SSE "event:" line.
type StreamMessage[T any] struct {
	Event string `json:"event"`
	Data  T      `json:"data"`
}
