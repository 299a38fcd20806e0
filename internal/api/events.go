package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// caseState serves the hub's in-memory view of the case: the record, the
// roster, both contexts, the transcript, and the agreement, plus the caller's
// own context under its own key. Clients load this before attaching to the
// event stream.
func (h *Handler) caseState(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	mirror, err := h.hub.Mirror(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "case state unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"case":         mirror.Case(),
		"participants": mirror.Participants(),
		"contexts":     mirror.Contexts(),
		"messages":     mirror.Messages(),
		"agreement":    mirror.Agreement(),
		"my_context":   mirror.ContextFor(userID),
	})
}

// streamCaseEvents pushes the case change feed to the client as SSE. The
// stream replays nothing; the client loads current state first and then
// applies events as they arrive.
func (h *Handler) streamCaseEvents(c *gin.Context) {
	_, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}

	events, cancel, err := h.hub.Watch(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "change feed unavailable"})
		return
	}
	defer cancel()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"case_id": caseID}); err != nil {
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := sendEvent(string(ev.Entity), gin.H{
				"case_id": ev.CaseID,
				"entity":  ev.Entity,
				"payload": json.RawMessage(ev.Payload),
			}); err != nil {
				return
			}
		}
	}
}
