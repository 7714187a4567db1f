package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// SetupSSEHeaders prepares a text/event-stream response. X-Accel-Buffering
// disables proxy buffering so frames reach the client immediately.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SendSSEChunk writes one `data: <json>\n\n` frame and flushes it. A write
// error means the transport is gone; the caller should stop the stream.
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal sse payload: %v", err)
		return err
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
