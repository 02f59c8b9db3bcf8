package core

import (
	"encoding/json"
	"time"
)

// ProviderID identifies an upstream LLM vendor. The set is closed; see the
// provider registry for the supported values.
type ProviderID string

const (
	ProviderOpenAI   ProviderID = "OPENAI"
	ProviderDeepSeek ProviderID = "DEEPSEEK"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the roles accepted by upstream providers.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationTurn is one prior message in a conversation. It is also the
// wire shape of an entry in the provider's "messages" array.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized input of a chat call.
type ChatRequest struct {
	Message             string
	Provider            ProviderID
	Model               string // empty selects the provider default
	APIKey              string
	ConversationHistory []ConversationTurn
}

// Messages returns the upstream message sequence: the history in order,
// followed by the new user turn.
func (r *ChatRequest) Messages() []ConversationTurn {
	messages := make([]ConversationTurn, 0, len(r.ConversationHistory)+1)
	messages = append(messages, r.ConversationHistory...)
	return append(messages, ConversationTurn{Role: RoleUser, Content: r.Message})
}

// Outcome is either Success or Failure.
type Outcome interface {
	isOutcome()
}

// Success carries the generated text (or a single streamed fragment).
type Success struct {
	Content string
}

// Failure carries the reason a call did not produce content.
type Failure struct {
	Err error
}

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// TimestampFormat matches JavaScript's Date.toISOString output.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ChatResult is the uniform result of a chat call, successful or not.
// Callers only need to branch on Error.
type ChatResult struct {
	ID        string
	Provider  ProviderID
	Model     string
	Timestamp time.Time
	Outcome   Outcome
}

// NewSuccessResult builds a result carrying content.
func NewSuccessResult(id string, provider ProviderID, model, content string) ChatResult {
	return ChatResult{
		ID:        id,
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now().UTC(),
		Outcome:   Success{Content: content},
	}
}

// NewFailureResult builds a result carrying an error. The ID is synthetic.
func NewFailureResult(provider ProviderID, model string, err error) ChatResult {
	return ChatResult{
		ID:        SyntheticID("error"),
		Provider:  provider,
		Model:     model,
		Timestamp: time.Now().UTC(),
		Outcome:   Failure{Err: err},
	}
}

// Content returns the generated text, or "" for a failure.
func (r ChatResult) Content() string {
	if s, ok := r.Outcome.(Success); ok {
		return s.Content
	}
	return ""
}

// Err returns the failure cause, or nil for a success.
func (r ChatResult) Err() error {
	if f, ok := r.Outcome.(Failure); ok {
		return f.Err
	}
	return nil
}

// ErrorMessage returns the human-readable error, or nil for a success.
func (r ChatResult) ErrorMessage() *string {
	err := r.Err()
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// FormattedTimestamp returns the ISO-8601 timestamp of the result.
func (r ChatResult) FormattedTimestamp() string {
	return r.Timestamp.UTC().Format(TimestampFormat)
}

// ChatResponse is the flat boundary shape of a ChatResult.
type ChatResponse struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Provider  ProviderID `json:"provider"`
	Model     string     `json:"model"`
	Timestamp string     `json:"timestamp"`
	Error     *string    `json:"error"`
}

// Flatten converts the result to its boundary shape.
func (r ChatResult) Flatten() ChatResponse {
	return ChatResponse{
		ID:        r.ID,
		Content:   r.Content(),
		Provider:  r.Provider,
		Model:     r.Model,
		Timestamp: r.FormattedTimestamp(),
		Error:     r.ErrorMessage(),
	}
}

// MarshalJSON serializes the result in its flat boundary shape.
func (r ChatResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Flatten())
}

// SyntheticID returns "<prefix>-<epoch millis>", used when the provider
// does not supply an id.
func SyntheticID(prefix string) string {
	return prefix + "-" + formatMillis(time.Now())
}
