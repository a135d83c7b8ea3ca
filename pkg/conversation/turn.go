package conversation

import "time"

// Role identifies who authored a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the transcript. Turns are never modified after being appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Failed marks an assistant turn carrying a diagnostic instead of generated text.
	Failed bool `json:"failed,omitempty"`
}

// Greeting is the first turn of every transcript.
const Greeting = "Hello! I'm your MedFit assistant. I can help you with medical-related questions " +
	"about conditions, diseases, diagnoses, and treatments. The assistant runs on a free-tier " +
	"model, so there may be occasional usage limits. How can I assist you today?"
