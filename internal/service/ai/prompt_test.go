package ai

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestSummarizePromptShape(t *testing.T) {
	meta := CaseMeta{Title: "Deposit dispute", Type: "landlord-tenant"}
	contexts := []PartyContext{
		{Party: "Party A", Background: "Landlord of the flat", Goals: "Keep part of the deposit"},
		{Party: "Party B", Background: "Outgoing tenant", Goals: "Full deposit back"},
	}
	turns := []Turn{
		{Sender: "Party A", Content: "The carpet is ruined."},
		{Sender: "Party B", Content: "It was worn out when I moved in."},
	}

	msgs := SummarizePrompt(meta, contexts, turns)
	if len(msgs) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.System {
		t.Fatalf("first message should be the system preamble")
	}
	if !strings.Contains(msgs[0].Content, "impartial, neutral mediator") {
		t.Fatalf("preamble missing role statement: %q", msgs[0].Content)
	}
	body := msgs[1].Content
	for _, want := range []string{
		`"title":"Deposit dispute"`,
		`"type":"landlord-tenant"`,
		"Party A: The carpet is ruined.",
		"Party B: It was worn out when I moved in.",
		"neutral summary",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("prompt body missing %q:\n%s", want, body)
		}
	}
}

func TestCompromisePromptIncludesDraft(t *testing.T) {
	msgs := CompromisePrompt(CaseMeta{Title: "t", Type: "x"}, nil, nil, "split the deposit 50/50")
	if !strings.Contains(msgs[1].Content, "Current Draft Agreement: split the deposit 50/50") {
		t.Fatalf("draft missing from prompt:\n%s", msgs[1].Content)
	}

	msgs = CompromisePrompt(CaseMeta{Title: "t", Type: "x"}, nil, nil, "  ")
	if strings.Contains(msgs[1].Content, "Current Draft Agreement") {
		t.Fatalf("blank draft should be omitted")
	}
}

func TestCaseMessagesWindowsTurns(t *testing.T) {
	turns := make([]Turn, DefaultRecentTurns+10)
	for i := range turns {
		turns[i] = Turn{Sender: "Party A", Content: fmt.Sprintf("message %d", i)}
	}
	msgs := DraftPrompt(CaseMeta{Title: "t", Type: "x"}, nil, turns)
	body := msgs[1].Content
	if strings.Contains(body, "message 9\n") {
		t.Fatalf("turns outside the window should be dropped")
	}
	if !strings.Contains(body, fmt.Sprintf("message %d", len(turns)-1)) {
		t.Fatalf("newest turn must be kept")
	}
	if !strings.Contains(body, fmt.Sprintf("message %d", len(turns)-DefaultRecentTurns)) {
		t.Fatalf("window should keep the last %d turns", DefaultRecentTurns)
	}
}

func TestRephraseAndImprovePrompts(t *testing.T) {
	msgs := RephrasePrompt("you always do this!")
	if !strings.Contains(msgs[1].Content, "Message to rephrase: you always do this!") {
		t.Fatalf("rephrase prompt missing message")
	}

	msgs = ImprovePrompt("both parties agree to things")
	if !strings.Contains(msgs[1].Content, "Draft Agreement: both parties agree to things") {
		t.Fatalf("improve prompt missing draft")
	}
}
