package conversation

import "fmt"

const preamble = `You are a medical assistant for MedFit. Provide accurate, helpful, and concise responses to medical questions. Only answer questions related to medical conditions, diseases, diagnoses, and treatments. If the question is not medical-related, politely decline to answer and remind the user that you can only help with medical topics.`

const closing = `Please provide a clear and accurate response based on medical knowledge. If you're unsure about something, acknowledge the uncertainty and suggest consulting a healthcare professional.`

// PromptFunc renders the prompt sent to the generator for a user question.
type PromptFunc func(question string) string

// MedicalPrompt renders the fixed medical-topic preamble followed by the question.
// Earlier turns are never included, which keeps every prompt bounded by the size
// of a single question.
func MedicalPrompt(question string) string {
	return fmt.Sprintf("%s\n\nCurrent question: %s\n\n%s", preamble, question, closing)
}
