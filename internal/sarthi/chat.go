package sarthi

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sarthi-app/sarthi/internal/gemini"
)

// Welcome greets a user with no chat history.
const Welcome = "Hello! I am Sarthi AI. I can help you find relevant verses from the Bhagavad Gita to answer your questions. Please ask your question."

// Apology is recorded in the history when a question could not be answered.
const Apology = "Sorry, there was a technical issue. Please try again later."

// Message senders.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

const chatPrompt = `You are Sarthi AI. Help users by recommending 3 relevant Bhagavad Gita verses for their questions.

User Question: %s

Respond in this format:
Brief guidance (2-3 sentences)

Recommended Verses:
Chapter X, Verse Y: Why this verse helps
Chapter X, Verse Y: Why this verse helps  
Chapter X, Verse Y: Why this verse helps

Keep it concise and practical.`

var verseRefPattern = regexp.MustCompile(`(?i)Chapter\s+(\d+),\s+Verse\s+(\d+)`)

// Message is one entry of the chat history.
type Message struct {
	Sender     string   `json:"sender"`
	Text       string   `json:"text"`
	References []string `json:"slokaNumbers,omitempty"`
	IsHTML     bool     `json:"isHTML"`
}

// ChatPrompt builds the prompt for a question.
func ChatPrompt(question string) string {
	return fmt.Sprintf(chatPrompt, question)
}

// VerseRefs extracts "chapter.verse" references in order of appearance.
func VerseRefs(text string) []string {
	var refs []string
	for _, m := range verseRefPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, m[1]+"."+m[2])
	}
	return refs
}

// Ask answers a question with recommended verses and records both in the
// chat history.
func (a *App) Ask(ctx context.Context, question string) (Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, fmt.Errorf("question cannot be empty")
	}
	if err := a.requireAPIKey(ctx); err != nil {
		return Message{}, err
	}

	if err := a.appendHistory(ctx, Message{Sender: SenderUser, Text: question}); err != nil {
		return Message{}, err
	}

	temp := a.temperature
	text, err := a.client.Generate(ctx, gemini.Request{
		Model:  a.chatModel,
		Prompt: ChatPrompt(question),
		Config: &gemini.GenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: a.maxOutputTokens,
		},
	})
	if err != nil {
		log.Error("AI error", "error", err)
		if herr := a.appendHistory(ctx, Message{Sender: SenderAI, Text: Apology, IsHTML: true}); herr != nil {
			log.Warn("could not save chat history", "error", herr)
		}
		return Message{}, err
	}

	reply := Message{
		Sender:     SenderAI,
		Text:       strings.TrimSpace(text),
		References: VerseRefs(text),
		IsHTML:     true,
	}
	if err := a.appendHistory(ctx, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// History returns the saved chat history. An unreadable history is logged
// and treated as empty.
func (a *App) History(ctx context.Context) ([]Message, error) {
	data, ok, err := a.store.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	if !ok || data == "" {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		log.Warn("invalid chat history, starting over", "error", err)
		return nil, nil
	}
	return msgs, nil
}

// HasUserMessages reports whether the history holds any question.
func (a *App) HasUserMessages(ctx context.Context) (bool, error) {
	msgs, err := a.History(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		if m.Sender == SenderUser {
			return true, nil
		}
	}
	return false, nil
}

// ClearHistory removes the chat history.
func (a *App) ClearHistory(ctx context.Context) error {
	if err := a.store.Remove(ctx, HistoryKey); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}

func (a *App) appendHistory(ctx context.Context, msg Message) error {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	msgs, err := a.History(ctx)
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if err := a.store.Set(ctx, HistoryKey, string(data)); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}
