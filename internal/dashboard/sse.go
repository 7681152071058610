package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/digitalopd/opd/internal/syncer"
)

// handleSSE streams sync state transitions to the client as server-sent
// events, with a periodic heartbeat so proxies keep the connection open.
func handleSSE(orc *syncer.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", orc.Snapshot())
		c.Writer.Flush()

		updates := make(chan syncer.Snapshot, 16)
		unsub := orc.Subscribe(func(s syncer.Snapshot) {
			select {
			case updates <- s:
			default:
				// Slow client; it will catch up on the next transition.
			}
		})
		defer unsub()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case snap := <-updates:
				writeSSE(c.Writer, "state", snap)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
