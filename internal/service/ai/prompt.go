package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// mediatorPreamble establishes the assistant's role for every assist action.
const mediatorPreamble = "You are an impartial, neutral mediator facilitating a conversation between two parties. " +
	"Your role is to help them reach a fair agreement by summarizing discussions, suggesting compromises, " +
	"rephrasing messages calmly, and drafting agreements. Always remain neutral and professional."

// DefaultRecentTurns bounds the transcript window serialized into prompts.
const DefaultRecentTurns = 50

// CaseMeta is the case metadata serialized into prompts.
type CaseMeta struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// PartyContext is one party's background statement as handed to the model.
type PartyContext struct {
	Party             string `json:"party"`
	Background        string `json:"background"`
	Goals             string `json:"goals"`
	AcceptableOutcome string `json:"acceptableOutcome"`
	Constraints       string `json:"constraints"`
}

// Turn is one transcript line, already labelled with a neutral sender name.
type Turn struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// The builder performs no authorization and no escaping of user-supplied
// text; callers must pass only records belonging to the requesting case.

// SummarizePrompt asks for a neutral summary of the current situation.
func SummarizePrompt(meta CaseMeta, contexts []PartyContext, turns []Turn) []*schema.Message {
	return caseMessages(meta, contexts, turns,
		"Please provide a neutral summary of the current situation and discussion.")
}

// CompromisePrompt asks for compromise options, including the current draft
// when one exists.
func CompromisePrompt(meta CaseMeta, contexts []PartyContext, turns []Turn, draft string) []*schema.Message {
	instruction := "Please suggest possible compromise options both parties could consider."
	if strings.TrimSpace(draft) != "" {
		instruction = fmt.Sprintf("Current Draft Agreement: %s\n\n%s", draft, instruction)
	}
	return caseMessages(meta, contexts, turns, instruction)
}

// RephrasePrompt asks for a calmer phrasing of a single message.
func RephrasePrompt(lastMessage string) []*schema.Message {
	body := fmt.Sprintf("Message to rephrase: %s\n\n"+
		"Please rephrase this message to be calm, professional, and constructive while preserving its meaning.",
		lastMessage)
	return []*schema.Message{
		{Role: schema.System, Content: mediatorPreamble},
		{Role: schema.User, Content: body},
	}
}

// DraftPrompt asks for a new or updated agreement draft.
func DraftPrompt(meta CaseMeta, contexts []PartyContext, turns []Turn) []*schema.Message {
	return caseMessages(meta, contexts, turns,
		"Please generate or update a draft agreement based on the discussion.")
}

// ImprovePrompt asks for a clearer, more balanced version of a draft.
func ImprovePrompt(draftText string) []*schema.Message {
	body := fmt.Sprintf("Draft Agreement: %s\n\n"+
		"Please improve the clarity, professionalism, and balance of this draft agreement.",
		draftText)
	return []*schema.Message{
		{Role: schema.System, Content: mediatorPreamble},
		{Role: schema.User, Content: body},
	}
}

// FileSummaryPrompt asks for a short summary of an uploaded case document.
func FileSummaryPrompt(fileName, content string) []*schema.Message {
	body := fmt.Sprintf("Document %s:\n%s\n\n"+
		"Please summarize this document for both parties, highlighting the points relevant to the dispute. "+
		"Limit the summary to 6 sentences.",
		fileName, content)
	return []*schema.Message{
		{Role: schema.System, Content: mediatorPreamble},
		{Role: schema.User, Content: body},
	}
}

func caseMessages(meta CaseMeta, contexts []PartyContext, turns []Turn, instruction string) []*schema.Message {
	metaJSON, _ := json.Marshal(meta)
	ctxJSON, _ := json.Marshal(contexts)

	if len(turns) > DefaultRecentTurns {
		turns = turns[len(turns)-DefaultRecentTurns:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Sender, t.Content))
	}

	body := fmt.Sprintf("Case Meta: %s\n\nParty Contexts: %s\n\nRecent Messages: %s\n\n%s",
		metaJSON, ctxJSON, strings.Join(lines, "\n"), instruction)

	return []*schema.Message{
		{Role: schema.System, Content: mediatorPreamble},
		{Role: schema.User, Content: body},
	}
}
