package mediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"accordgo/internal/ratelimit"
	"accordgo/internal/service/ai"
)

// ErrRateLimitExceeded is surfaced when the per-user sliding window is full.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrNothingToRephrase is returned when the transcript holds no user message.
var ErrNothingToRephrase = errors.New("no user message to rephrase")

// Completer is the gateway surface the orchestrator calls.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
}

// DocLoader extracts text from an uploaded file.
type DocLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// Orchestrator runs the assist actions: rate-limit check first (fails
// closed), then prompt, gateway call, and a persist step. A failed call
// writes nothing; a crash after the call but before the persist loses the
// completion, so delivery is at most once.
type Orchestrator struct {
	svc         *Service
	gateway     Completer
	limiter     *ratelimit.Limiter
	docs        DocLoader
	recentLimit int
}

// NewOrchestrator wires the assist pipeline. docs may be nil when file
// summarization is disabled.
func NewOrchestrator(svc *Service, gateway Completer, limiter *ratelimit.Limiter, docs DocLoader, recentLimit int) *Orchestrator {
	if recentLimit <= 0 {
		recentLimit = ai.DefaultRecentTurns
	}
	return &Orchestrator{
		svc:         svc,
		gateway:     gateway,
		limiter:     limiter,
		docs:        docs,
		recentLimit: recentLimit,
	}
}

// RecentLimit reports the transcript window handed to prompts.
func (o *Orchestrator) RecentLimit() int {
	return o.recentLimit
}

func (o *Orchestrator) gate(ctx context.Context, userID int64) error {
	ok, err := o.limiter.Allow(ctx, userID)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !ok {
		return ErrRateLimitExceeded
	}
	return nil
}

// promptState fills whatever the caller left empty from the stored case
// record, the party contexts, and the recent transcript, so a bare request
// still produces a fully grounded prompt.
func (o *Orchestrator) promptState(ctx context.Context, caseID int64, meta ai.CaseMeta, contexts []ai.PartyContext, turns []ai.Turn) (ai.CaseMeta, []ai.PartyContext, []ai.Turn, error) {
	if meta.Title == "" && meta.Type == "" {
		kase, err := o.svc.GetCase(ctx, caseID)
		if err != nil {
			return meta, nil, nil, fmt.Errorf("load case meta: %w", err)
		}
		meta = ai.CaseMeta{Title: kase.Title, Type: kase.Type}
	}
	if len(contexts) == 0 {
		stored, err := o.svc.PartyContextsForPrompt(ctx, caseID)
		if err != nil {
			return meta, nil, nil, fmt.Errorf("load party contexts: %w", err)
		}
		contexts = make([]ai.PartyContext, 0, len(stored))
		for _, pc := range stored {
			contexts = append(contexts, ai.PartyContext{
				Party:             pc.Party,
				Background:        pc.Background,
				Goals:             pc.Goals,
				AcceptableOutcome: pc.AcceptableOutcome,
				Constraints:       pc.Constraints,
			})
		}
	}
	if len(turns) == 0 {
		recent, err := o.svc.RecentTurns(ctx, caseID, o.recentLimit)
		if err != nil {
			return meta, nil, nil, fmt.Errorf("load recent turns: %w", err)
		}
		turns = make([]ai.Turn, 0, len(recent))
		for _, turn := range recent {
			turns = append(turns, ai.Turn{Sender: turn.Sender, Content: turn.Content})
		}
	}
	return meta, contexts, turns, nil
}

// Summarize produces a neutral situation summary, stores it on the case, and
// appends it to the transcript as an AI suggestion.
func (o *Orchestrator) Summarize(ctx context.Context, userID, caseID int64, meta ai.CaseMeta, contexts []ai.PartyContext, turns []ai.Turn) (string, error) {
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	meta, contexts, turns, err := o.promptState(ctx, caseID, meta, contexts, turns)
	if err != nil {
		return "", err
	}
	result, err := o.gateway.Complete(ctx, ai.SummarizePrompt(meta, contexts, turns))
	if err != nil {
		return "", err
	}
	if err := o.svc.SetAISummary(ctx, caseID, result); err != nil {
		return "", err
	}
	if _, err := o.svc.AppendAIMessage(ctx, caseID, "AI Summary: "+result); err != nil {
		return "", err
	}
	return result, nil
}

// SuggestCompromises proposes compromise options, folding in the current
// agreement draft when one exists, and appends them to the transcript.
func (o *Orchestrator) SuggestCompromises(ctx context.Context, userID, caseID int64, meta ai.CaseMeta, contexts []ai.PartyContext, turns []ai.Turn) (string, error) {
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	meta, contexts, turns, err := o.promptState(ctx, caseID, meta, contexts, turns)
	if err != nil {
		return "", err
	}
	var draft string
	if agreement, err := o.svc.GetAgreement(ctx, caseID); err != nil {
		return "", err
	} else if agreement != nil {
		draft = agreement.DraftText
	}
	result, err := o.gateway.Complete(ctx, ai.CompromisePrompt(meta, contexts, turns, draft))
	if err != nil {
		return "", err
	}
	if _, err := o.svc.AppendAIMessage(ctx, caseID, "AI Suggested Compromises: "+result); err != nil {
		return "", err
	}
	return result, nil
}

// Rephrase rewrites a single message calmly and appends the result to the
// transcript. With no explicit message it falls back to the newest
// participant message; an empty transcript makes the action a no-op.
func (o *Orchestrator) Rephrase(ctx context.Context, userID, caseID int64, lastMessage string) (string, error) {
	if lastMessage == "" {
		msg, err := o.svc.LastUserMessage(ctx, caseID)
		if err != nil {
			return "", err
		}
		if msg == nil {
			return "", ErrNothingToRephrase
		}
		lastMessage = msg.Content
	}
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	result, err := o.gateway.Complete(ctx, ai.RephrasePrompt(lastMessage))
	if err != nil {
		return "", err
	}
	if _, err := o.svc.AppendAIMessage(ctx, caseID, "Rephrased calmly: "+result); err != nil {
		return "", err
	}
	return result, nil
}

// GenerateDraft drafts or updates the agreement from the discussion and
// echoes the draft into the transcript.
func (o *Orchestrator) GenerateDraft(ctx context.Context, userID, caseID int64, meta ai.CaseMeta, contexts []ai.PartyContext, turns []ai.Turn) (string, error) {
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	meta, contexts, turns, err := o.promptState(ctx, caseID, meta, contexts, turns)
	if err != nil {
		return "", err
	}
	result, err := o.gateway.Complete(ctx, ai.DraftPrompt(meta, contexts, turns))
	if err != nil {
		return "", err
	}
	if _, err := o.svc.UpsertDraft(ctx, caseID, result); err != nil {
		return "", err
	}
	if _, err := o.svc.AppendAIMessage(ctx, caseID, "AI Draft Agreement: "+result); err != nil {
		return "", err
	}
	return result, nil
}

// ImproveDraft rewrites the supplied draft for clarity and balance and
// stores it as the new draft text. No transcript entry is written.
func (o *Orchestrator) ImproveDraft(ctx context.Context, userID, caseID int64, draftText string) (string, error) {
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	result, err := o.gateway.Complete(ctx, ai.ImprovePrompt(draftText))
	if err != nil {
		return "", err
	}
	if _, err := o.svc.UpsertDraft(ctx, caseID, result); err != nil {
		return "", err
	}
	return result, nil
}

// SummarizeCaseFile extracts an uploaded document's text and appends an AI
// summary of it to the transcript.
func (o *Orchestrator) SummarizeCaseFile(ctx context.Context, userID, caseID, fileID int64) (string, error) {
	if o.docs == nil {
		return "", errors.New("file summarization is not available")
	}
	file, err := o.svc.GetCaseFile(ctx, caseID, fileID)
	if err != nil {
		return "", err
	}
	if err := o.gate(ctx, userID); err != nil {
		return "", err
	}
	content, err := o.docs.Load(ctx, file.StoredPath)
	if err != nil {
		return "", err
	}
	result, err := o.gateway.Complete(ctx, ai.FileSummaryPrompt(file.FileName, content))
	if err != nil {
		return "", err
	}
	if _, err := o.svc.AppendAIMessage(ctx, caseID, fmt.Sprintf("AI Summary of %s: %s", file.FileName, result)); err != nil {
		return "", err
	}
	return result, nil
}
