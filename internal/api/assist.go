package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"accordgo/internal/service/ai"
	"accordgo/internal/service/mediation"
	"accordgo/internal/worker"
)

func (h *Handler) registerAssistRoutes(group *gin.RouterGroup) {
	group.POST("/cases/:id/assist/summarize", h.assistSummarize)
	group.POST("/cases/:id/assist/suggest-compromises", h.assistSuggestCompromises)
	group.POST("/cases/:id/assist/rephrase-message", h.assistRephrase)
	group.POST("/cases/:id/assist/generate-agreement", h.assistGenerateAgreement)
	group.POST("/cases/:id/assist/improve-agreement", h.assistImproveAgreement)
}

// assistState is the JSON body shared by the state-driven assist endpoints.
// Every field is optional; anything omitted is derived from the stored case
// state. Fields stay raw so a malformed value can name the offending field.
type assistState struct {
	meta     ai.CaseMeta
	contexts []ai.PartyContext
	turns    []ai.Turn
}

func bindAssistState(c *gin.Context) (assistState, bool) {
	var req struct {
		CaseMeta       json.RawMessage `json:"caseMeta"`
		PartyContexts  json.RawMessage `json:"partyContexts"`
		RecentMessages json.RawMessage `json:"recentMessages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return assistState{}, false
	}

	var state assistState
	if !decodeOptional(c, "caseMeta", req.CaseMeta, &state.meta) {
		return assistState{}, false
	}
	if !decodeOptional(c, "partyContexts", req.PartyContexts, &state.contexts) {
		return assistState{}, false
	}
	if !decodeOptional(c, "recentMessages", req.RecentMessages, &state.turns) {
		return assistState{}, false
	}
	return state, true
}

func decodeOptional(c *gin.Context, field string, raw json.RawMessage, dst interface{}) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for field: " + field})
		return false
	}
	return true
}

// optionalString reads one string field, tolerating an absent field or an
// empty body. A present value of the wrong type is rejected by name.
func optionalString(c *gin.Context, field string) (string, bool) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", false
	}
	raw, ok := body[field]
	if !ok || string(raw) == "null" {
		return "", true
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for field: " + field})
		return "", false
	}
	return value, true
}

func requiredString(c *gin.Context, field string) (string, bool) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", false
	}
	raw, ok := body[field]
	if !ok || string(raw) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: " + field})
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || value == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: " + field})
		return "", false
	}
	return value, true
}

// errAssistCanceled is delivered to waiters whose queued job was dropped,
// e.g. when the account is deleted while actions are still pending.
var errAssistCanceled = errors.New("assist action canceled")

// runAssist executes one assist action through the bounded dispatcher and
// writes the wire response: {"result": ...} or a mapped error. The wait ends
// when the job reports back, the job is dropped, or the client goes away.
func (h *Handler) runAssist(c *gin.Context, userID int64, kind string, fn func(ctx context.Context) (string, error)) {
	type outcome struct {
		result string
		err    error
	}
	ctx := c.Request.Context()
	done := make(chan outcome, 1)
	err := h.dispatcher.Submit(worker.Job{
		UserID: userID,
		Kind:   kind,
		Run: func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: fmt.Errorf("assist %s panicked: %v", kind, r)}
				}
			}()
			result, err := fn(ctx)
			done <- outcome{result: result, err: err}
		},
		Cancel: func() {
			done <- outcome{err: errAssistCanceled}
		},
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is busy, please retry"})
		return
	}

	select {
	case out := <-done:
		if out.err != nil {
			h.assistError(c, kind, out.err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": out.result})
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
	}
}

// assistError maps the gateway/limiter taxonomy onto wire status codes.
// Provider detail is logged server-side only.
func (h *Handler) assistError(c *gin.Context, kind string, err error) {
	switch {
	case errors.Is(err, mediation.ErrRateLimitExceeded), errors.Is(err, ai.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	case errors.Is(err, mediation.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, mediation.ErrAgreementFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, mediation.ErrNothingToRephrase):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errAssistCanceled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Printf("assist %s failed: %v", kind, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assist action failed, please try again"})
	}
}

func (h *Handler) assistSummarize(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	state, ok := bindAssistState(c)
	if !ok {
		return
	}
	h.runAssist(c, userID, "summarize", func(ctx context.Context) (string, error) {
		return h.orch.Summarize(ctx, userID, caseID, state.meta, state.contexts, state.turns)
	})
}

func (h *Handler) assistSuggestCompromises(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	state, ok := bindAssistState(c)
	if !ok {
		return
	}
	h.runAssist(c, userID, "suggest-compromises", func(ctx context.Context) (string, error) {
		return h.orch.SuggestCompromises(ctx, userID, caseID, state.meta, state.contexts, state.turns)
	})
}

func (h *Handler) assistRephrase(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	lastMessage, ok := optionalString(c, "lastMessage")
	if !ok {
		return
	}
	h.runAssist(c, userID, "rephrase-message", func(ctx context.Context) (string, error) {
		return h.orch.Rephrase(ctx, userID, caseID, lastMessage)
	})
}

func (h *Handler) assistGenerateAgreement(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	state, ok := bindAssistState(c)
	if !ok {
		return
	}
	h.runAssist(c, userID, "generate-agreement", func(ctx context.Context) (string, error) {
		return h.orch.GenerateDraft(ctx, userID, caseID, state.meta, state.contexts, state.turns)
	})
}

func (h *Handler) assistImproveAgreement(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	draftText, ok := requiredString(c, "draftText")
	if !ok {
		return
	}
	h.runAssist(c, userID, "improve-agreement", func(ctx context.Context) (string, error) {
		return h.orch.ImproveDraft(ctx, userID, caseID, draftText)
	})
}

func (h *Handler) summarizeCaseFile(c *gin.Context) {
	userID, caseID, ok := h.requireCaseAccess(c)
	if !ok {
		return
	}
	fileID, err := strconv.ParseInt(c.Param("file_id"), 10, 64)
	if err != nil || fileID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}
	h.runAssist(c, userID, fmt.Sprintf("summarize-file-%d", fileID), func(ctx context.Context) (string, error) {
		return h.orch.SummarizeCaseFile(ctx, userID, caseID, fileID)
	})
}
