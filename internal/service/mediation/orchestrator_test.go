package mediation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"accordgo/internal/models"
	"accordgo/internal/ratelimit"
	"accordgo/internal/service/ai"
)

type stubCompleter struct {
	reply   string
	err     error
	calls   int
	prompts [][]*schema.Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []*schema.Message) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, messages)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

// promptText flattens the newest prompt handed to the stub.
func promptText(gw *stubCompleter) string {
	if len(gw.prompts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range gw.prompts[len(gw.prompts)-1] {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

type stubDocLoader struct {
	content string
}

func (s *stubDocLoader) Load(_ context.Context, _ string) (string, error) {
	return s.content, nil
}

type stubLimitStore struct {
	stamps map[int64][]time.Time
}

func (s *stubLimitStore) Load(_ context.Context, userID int64) ([]time.Time, error) {
	return append([]time.Time(nil), s.stamps[userID]...), nil
}

func (s *stubLimitStore) Save(_ context.Context, userID int64, stamps []time.Time) error {
	if s.stamps == nil {
		s.stamps = make(map[int64][]time.Time)
	}
	s.stamps[userID] = append([]time.Time(nil), stamps...)
	return nil
}

func newTestOrchestrator(svc *Service, gw Completer, limit int) *Orchestrator {
	limiter := ratelimit.New(&stubLimitStore{}, limit, time.Minute)
	return NewOrchestrator(svc, gw, limiter, &stubDocLoader{content: "scanned lease text"}, 0)
}

func assistFixture(t *testing.T, svc *Service) (context.Context, *models.User, *models.Case, ai.CaseMeta) {
	t.Helper()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)
	if _, err := svc.AppendUserMessage(ctx, alice.ID, kase.ID, "The carpet is ruined."); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return ctx, alice, kase, ai.CaseMeta{Title: kase.Title, Type: kase.Type}
}

func countMessages(t *testing.T, svc *Service, caseID int64) int {
	t.Helper()
	messages, err := svc.ListMessages(context.Background(), caseID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return len(messages)
}

func lastMessage(t *testing.T, svc *Service, caseID int64) *models.Message {
	t.Helper()
	messages, err := svc.ListMessages(context.Background(), caseID)
	if err != nil || len(messages) == 0 {
		t.Fatalf("no messages (err %v)", err)
	}
	return messages[len(messages)-1]
}

func TestSummarizePersistsResult(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "the parties disagree about the carpet"}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, meta := assistFixture(t, svc)

	result, err := orch.Summarize(ctx, alice.ID, kase.ID, meta, nil, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if result != gw.reply {
		t.Fatalf("unexpected result %q", result)
	}

	kaseAfter, _ := svc.GetCase(ctx, kase.ID)
	if kaseAfter.AISummary != gw.reply {
		t.Fatalf("summary not stored on case: %q", kaseAfter.AISummary)
	}
	msg := lastMessage(t, svc, kase.ID)
	if msg.Content != "AI Summary: "+gw.reply {
		t.Fatalf("unexpected transcript entry %q", msg.Content)
	}
	if msg.SenderType != models.SenderAI {
		t.Fatalf("summary must be an AI message, got %s", msg.SenderType)
	}
}

func TestSuggestCompromisesAppendsMessage(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "1. split the deposit"}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, meta := assistFixture(t, svc)

	if _, err := orch.SuggestCompromises(ctx, alice.ID, kase.ID, meta, nil, nil); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	msg := lastMessage(t, svc, kase.ID)
	if !strings.HasPrefix(msg.Content, "AI Suggested Compromises: ") {
		t.Fatalf("unexpected transcript entry %q", msg.Content)
	}
}

func TestRephrase(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "I am frustrated about the carpet."}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, _ := assistFixture(t, svc)

	// No explicit message: the newest participant message is rephrased.
	if _, err := orch.Rephrase(ctx, alice.ID, kase.ID, ""); err != nil {
		t.Fatalf("rephrase fallback: %v", err)
	}
	if got := promptText(gw); !strings.Contains(got, "The carpet is ruined.") {
		t.Fatalf("fallback did not use the transcript: %q", got)
	}
	msg := lastMessage(t, svc, kase.ID)
	if !strings.HasPrefix(msg.Content, "Rephrased calmly: ") {
		t.Fatalf("unexpected transcript entry %q", msg.Content)
	}

	// An explicit message wins over the transcript.
	if _, err := orch.Rephrase(ctx, alice.ID, kase.ID, "you ruined my carpet!"); err != nil {
		t.Fatalf("rephrase: %v", err)
	}
	if got := promptText(gw); !strings.Contains(got, "you ruined my carpet!") {
		t.Fatalf("explicit message not used: %q", got)
	}
}

func TestRephraseWithEmptyTranscript(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "calm words"}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if _, err := orch.Rephrase(ctx, alice.ID, kase.ID, ""); !errors.Is(err, ErrNothingToRephrase) {
		t.Fatalf("empty transcript should be a no-op, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatalf("no-op rephrase must not call the gateway")
	}
	if n := countMessages(t, svc, kase.ID); n != 0 {
		t.Fatalf("no-op rephrase must write nothing, found %d messages", n)
	}
}

func TestPromptStateDerivedFromStore(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "a grounded summary"}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, _ := assistFixture(t, svc)

	if _, err := svc.InsertContext(ctx, alice.ID, kase.ID, models.PartyContext{
		Background: "Landlord of the flat",
		Goals:      "keep part of the deposit",
	}); err != nil {
		t.Fatalf("insert context: %v", err)
	}

	if _, err := orch.Summarize(ctx, alice.ID, kase.ID, ai.CaseMeta{}, nil, nil); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	prompt := promptText(gw)
	for _, want := range []string{"Deposit dispute", "Landlord of the flat", "The carpet is ruined."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing stored state %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateDraftUpdatesAgreementAndTranscript(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "Both parties agree to split the deposit."}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, meta := assistFixture(t, svc)

	if _, err := orch.GenerateDraft(ctx, alice.ID, kase.ID, meta, nil, nil); err != nil {
		t.Fatalf("generate draft: %v", err)
	}
	agreement, err := svc.GetAgreement(ctx, kase.ID)
	if err != nil || agreement == nil {
		t.Fatalf("draft not stored (err %v)", err)
	}
	if agreement.DraftText != gw.reply {
		t.Fatalf("unexpected draft %q", agreement.DraftText)
	}
	msg := lastMessage(t, svc, kase.ID)
	if !strings.HasPrefix(msg.Content, "AI Draft Agreement: ") {
		t.Fatalf("unexpected transcript entry %q", msg.Content)
	}
}

func TestImproveDraftWritesNoMessage(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "A clearer agreement."}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, _ := assistFixture(t, svc)

	before := countMessages(t, svc, kase.ID)
	if _, err := orch.ImproveDraft(ctx, alice.ID, kase.ID, "a muddled agreement"); err != nil {
		t.Fatalf("improve: %v", err)
	}
	agreement, _ := svc.GetAgreement(ctx, kase.ID)
	if agreement == nil || agreement.DraftText != gw.reply {
		t.Fatalf("improved draft not stored: %#v", agreement)
	}
	if after := countMessages(t, svc, kase.ID); after != before {
		t.Fatalf("improve must not touch the transcript: %d -> %d", before, after)
	}
}

func TestAssistRateLimitFailsClosed(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "ok"}
	orch := newTestOrchestrator(svc, gw, 1)
	ctx, alice, kase, meta := assistFixture(t, svc)

	if _, err := orch.Summarize(ctx, alice.ID, kase.ID, meta, nil, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	before := countMessages(t, svc, kase.ID)
	callsBefore := gw.calls

	_, err := orch.SuggestCompromises(ctx, alice.ID, kase.ID, meta, nil, nil)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", err)
	}
	if gw.calls != callsBefore {
		t.Fatalf("limited call must not reach the gateway")
	}
	if after := countMessages(t, svc, kase.ID); after != before {
		t.Fatalf("limited call must write nothing")
	}
}

func TestAssistGatewayFailureWritesNothing(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{err: errors.New("provider exploded")}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, meta := assistFixture(t, svc)

	before := countMessages(t, svc, kase.ID)
	if _, err := orch.GenerateDraft(ctx, alice.ID, kase.ID, meta, nil, nil); err == nil {
		t.Fatalf("gateway failure must surface")
	}
	if after := countMessages(t, svc, kase.ID); after != before {
		t.Fatalf("failed call must not write to the transcript")
	}
	if agreement, _ := svc.GetAgreement(ctx, kase.ID); agreement != nil {
		t.Fatalf("failed call must not create an agreement")
	}
}

func TestSummarizeCaseFile(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	gw := &stubCompleter{reply: "the lease requires professional cleaning"}
	orch := newTestOrchestrator(svc, gw, 10)
	ctx, alice, kase, _ := assistFixture(t, svc)

	file, err := svc.RecordCaseFile(ctx, alice.ID, kase.ID, "lease.pdf", "/tmp/lease.pdf", "application/pdf", 1024)
	if err != nil {
		t.Fatalf("record file: %v", err)
	}

	if _, err := orch.SummarizeCaseFile(ctx, alice.ID, kase.ID, file.ID); err != nil {
		t.Fatalf("summarize file: %v", err)
	}
	msg := lastMessage(t, svc, kase.ID)
	if !strings.HasPrefix(msg.Content, "AI Summary of lease.pdf: ") {
		t.Fatalf("unexpected transcript entry %q", msg.Content)
	}

	// A missing file fails before any model call.
	callsBefore := gw.calls
	if _, err := orch.SummarizeCaseFile(ctx, alice.ID, kase.ID, file.ID+100); err == nil {
		t.Fatalf("missing file must fail")
	}
	if gw.calls != callsBefore {
		t.Fatalf("missing file must not reach the gateway")
	}
}
