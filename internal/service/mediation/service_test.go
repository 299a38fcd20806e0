package mediation

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"accordgo/internal/models"
	"accordgo/internal/storage"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection so the in-memory database and pragma are shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, "sqlite3", nil), db
}

func registerPair(t *testing.T, svc *Service) (*models.User, *models.User) {
	t.Helper()
	ctx := context.Background()
	alice, err := svc.RegisterUser(ctx, "alice@example.com", "Alice Smith", "pass123")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := svc.RegisterUser(ctx, "bob@example.com", "Bob Jones", "pass456")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	return alice, bob
}

// newActiveCase creates a two-party active case: alice initiates, bob joins
// via invite.
func newActiveCase(t *testing.T, svc *Service, alice, bob *models.User) *models.Case {
	t.Helper()
	ctx := context.Background()
	kase, err := svc.CreateDraftCase(ctx, alice.ID, "Deposit dispute", "who keeps the deposit", "landlord-tenant")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	token, err := svc.GenerateInvite(ctx, alice.ID, kase.ID, "bob@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := svc.JoinCase(ctx, bob.ID, token); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.ActivateCase(ctx, alice.ID, kase.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return kase
}

func TestAgreementUpsertMatchesDriver(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	if got := svc.agreementUpsertStmt(); !strings.Contains(got, "ON CONFLICT(case_id)") {
		t.Fatalf("sqlite upsert should use ON CONFLICT: %s", got)
	}
	mysqlSvc := NewService(db, "mysql", nil)
	if got := mysqlSvc.agreementUpsertStmt(); !strings.Contains(got, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("mysql upsert should use ON DUPLICATE KEY UPDATE: %s", got)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, "Carol@Example.com", "Carol", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Fatalf("email should be normalized, got %q", user.Email)
	}

	if _, err := svc.Login(ctx, "carol@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(ctx, "carol@example.com", "wrong"); err == nil {
		t.Fatalf("wrong password must fail")
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "secret"); err == nil {
		t.Fatalf("unknown user must fail")
	}
}

func TestCaseLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)

	kase, err := svc.CreateDraftCase(ctx, alice.ID, "Deposit dispute", "", "landlord-tenant")
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if kase.Status != models.CaseDraft {
		t.Fatalf("new case should be draft, got %s", kase.Status)
	}

	// Only the initiator can invite.
	if _, err := svc.GenerateInvite(ctx, bob.ID, kase.ID, "x@example.com"); err == nil {
		t.Fatalf("non-participant invite must fail")
	}
	token, err := svc.GenerateInvite(ctx, alice.ID, kase.ID, "bob@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	found, err := svc.ValidateInviteToken(ctx, token)
	if err != nil || found.ID != kase.ID {
		t.Fatalf("validate invite: %v", err)
	}
	if _, err := svc.JoinCase(ctx, bob.ID, "not-a-token"); err == nil {
		t.Fatalf("bogus token must fail")
	}
	if _, err := svc.JoinCase(ctx, bob.ID, token); err != nil {
		t.Fatalf("join: %v", err)
	}

	participants, err := svc.ListParticipants(ctx, kase.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}
	if participants[0].Role != models.RoleInitiator || participants[1].Role != models.RoleInvitedParty {
		t.Fatalf("unexpected roles: %v %v", participants[0].Role, participants[1].Role)
	}

	if err := svc.ActivateCase(ctx, alice.ID, kase.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.ActivateCase(ctx, alice.ID, kase.ID); err == nil {
		t.Fatalf("re-activation must fail")
	}

	cases, err := svc.ListCases(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list cases: %v", err)
	}
	if len(cases) != 1 || cases[0].Status != models.CaseActive {
		t.Fatalf("bob should see one active case, got %#v", cases)
	}
}

func TestContextsArePerParticipant(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if _, err := svc.InsertContext(ctx, alice.ID, kase.ID, models.PartyContext{}); err == nil {
		t.Fatalf("context without background must fail")
	}
	if _, err := svc.InsertContext(ctx, alice.ID, kase.ID, models.PartyContext{
		Background: "Landlord of the flat",
		Goals:      "keep part of the deposit",
	}); err != nil {
		t.Fatalf("insert context: %v", err)
	}
	// One context per participant per case.
	if _, err := svc.InsertContext(ctx, alice.ID, kase.ID, models.PartyContext{Background: "again"}); err == nil {
		t.Fatalf("second context for same participant must fail")
	}
	if _, err := svc.InsertContext(ctx, bob.ID, kase.ID, models.PartyContext{Background: "Tenant"}); err != nil {
		t.Fatalf("bob context: %v", err)
	}

	labelled, err := svc.PartyContextsForPrompt(ctx, kase.ID)
	if err != nil {
		t.Fatalf("labelled contexts: %v", err)
	}
	if len(labelled) != 2 {
		t.Fatalf("expected 2 labelled contexts, got %d", len(labelled))
	}
	if labelled[0].Party != "Party A" || labelled[1].Party != "Party B" {
		t.Fatalf("unexpected party labels: %q %q", labelled[0].Party, labelled[1].Party)
	}
}

func TestMessagesAndRecentTurns(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if _, err := svc.AppendUserMessage(ctx, alice.ID, kase.ID, "The carpet is ruined."); err != nil {
		t.Fatalf("alice message: %v", err)
	}
	if _, err := svc.AppendUserMessage(ctx, bob.ID, kase.ID, "It was already worn."); err != nil {
		t.Fatalf("bob message: %v", err)
	}
	if _, err := svc.AppendAIMessage(ctx, kase.ID, "AI Summary: the parties disagree about the carpet."); err != nil {
		t.Fatalf("ai message: %v", err)
	}
	if _, err := svc.AppendUserMessage(ctx, alice.ID, kase.ID, "   "); err == nil {
		t.Fatalf("blank message must fail")
	}

	outsider, err := svc.RegisterUser(ctx, "eve@example.com", "Eve", "pw")
	if err != nil {
		t.Fatalf("register outsider: %v", err)
	}
	if _, err := svc.AppendUserMessage(ctx, outsider.ID, kase.ID, "let me in"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider should be rejected, got %v", err)
	}

	turns, err := svc.RecentTurns(ctx, kase.ID, 50)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Sender != "Party A" || turns[1].Sender != "Party B" || turns[2].Sender != "AI Mediator" {
		t.Fatalf("unexpected sender labels: %#v", turns)
	}

	// The window keeps the newest messages.
	turns, err = svc.RecentTurns(ctx, kase.ID, 2)
	if err != nil {
		t.Fatalf("windowed turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Sender != "Party B" {
		t.Fatalf("window should keep newest turns: %#v", turns)
	}

	last, err := svc.LastUserMessage(ctx, kase.ID)
	if err != nil {
		t.Fatalf("last user message: %v", err)
	}
	if last == nil || !strings.Contains(last.Content, "already worn") {
		t.Fatalf("expected bob's message, got %#v", last)
	}
}

func TestAgreementFinalizeOnce(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if a, err := svc.GetAgreement(ctx, kase.ID); err != nil || a != nil {
		t.Fatalf("expected no agreement yet, got %#v err %v", a, err)
	}
	if _, err := svc.FinalizeAgreement(ctx, alice.ID, kase.ID); err == nil {
		t.Fatalf("finalize without a draft must fail")
	}

	if _, err := svc.UpsertDraft(ctx, kase.ID, "first draft"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a, err := svc.UpsertDraft(ctx, kase.ID, "second draft")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if a.DraftText != "second draft" {
		t.Fatalf("last write should win, got %q", a.DraftText)
	}

	a, err = svc.FinalizeAgreement(ctx, alice.ID, kase.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if a.Status != models.AgreementFinalized || a.FinalizedText != "second draft" || a.FinalizedAt == nil {
		t.Fatalf("finalized record wrong: %#v", a)
	}

	if _, err := svc.FinalizeAgreement(ctx, alice.ID, kase.ID); !errors.Is(err, ErrAgreementFinalized) {
		t.Fatalf("re-finalize should fail with ErrAgreementFinalized, got %v", err)
	}
	if _, err := svc.UpsertDraft(ctx, kase.ID, "too late"); !errors.Is(err, ErrAgreementFinalized) {
		t.Fatalf("draft after finalize should fail, got %v", err)
	}
}

func TestSignAndResolve(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if _, err := svc.UpsertDraft(ctx, kase.ID, "split the deposit"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Signing requires a finalized agreement.
	if _, err := svc.SignAgreement(ctx, alice.ID, kase.ID, "Alice Smith"); err == nil {
		t.Fatalf("signing a non-finalized agreement must fail")
	}
	if _, err := svc.FinalizeAgreement(ctx, alice.ID, kase.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// The typed confirmation must match the display name exactly.
	if _, err := svc.SignAgreement(ctx, alice.ID, kase.ID, "alice smith"); !errors.Is(err, ErrNameMismatch) {
		t.Fatalf("case-insensitive match must be rejected, got %v", err)
	}
	participants, _ := svc.ListParticipants(ctx, kase.ID)
	for _, p := range participants {
		if p.HasSigned {
			t.Fatalf("failed sign attempt must not set the flag")
		}
	}

	p, err := svc.SignAgreement(ctx, alice.ID, kase.ID, "Alice Smith")
	if err != nil {
		t.Fatalf("alice sign: %v", err)
	}
	if !p.HasSigned || p.SignedAt == nil {
		t.Fatalf("signature not recorded: %#v", p)
	}
	kaseAfterOne, _ := svc.GetCase(ctx, kase.ID)
	if kaseAfterOne.Status != models.CaseActive {
		t.Fatalf("case must stay active after one signature, got %s", kaseAfterOne.Status)
	}

	if _, err := svc.SignAgreement(ctx, bob.ID, kase.ID, "Bob Jones"); err != nil {
		t.Fatalf("bob sign: %v", err)
	}
	kaseAfterBoth, _ := svc.GetCase(ctx, kase.ID)
	if kaseAfterBoth.Status != models.CaseResolved {
		t.Fatalf("case must resolve after all signatures, got %s", kaseAfterBoth.Status)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()
	ctx := context.Background()
	alice, bob := registerPair(t, svc)
	kase := newActiveCase(t, svc, alice, bob)

	if err := svc.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := svc.DeleteUser(ctx, alice.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete should report missing user, got %v", err)
	}
	// The creator's case goes with them.
	if _, err := svc.GetCase(ctx, kase.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("case should cascade on user delete, got %v", err)
	}
}
