package llm

// ErrorResponse is the JSON body of an error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
