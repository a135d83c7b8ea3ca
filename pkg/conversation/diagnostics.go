package conversation

import (
	"errors"
	"strings"

	"github.com/papercomputeco/medfit/pkg/generate"
)

const apology = "I apologize, but I encountered an error processing your request. "

const (
	rateLimitAdvice  = "You may have reached the API rate limit for the free tier. Please try again in a moment."
	permissionAdvice = "There might be an issue with API access permissions. Please try a different question."
	genericAdvice    = "Please try asking your question again, or rephrase it if the issue persists."
)

// FailureKind classifies why a generation request could not be completed.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureRateLimit
	FailurePermission
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimit:
		return "rate_limit"
	case FailurePermission:
		return "permission"
	default:
		return "unknown"
	}
}

// Classify inspects a generation failure. Status codes from the API take
// precedence over the wording of the error message.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var statusErr *generate.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.RateLimited():
			return FailureRateLimit
		case statusErr.Forbidden():
			return FailurePermission
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return FailureRateLimit
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access"):
		return FailurePermission
	default:
		return FailureUnknown
	}
}

// Diagnostic is the assistant text shown in place of an answer after err.
func Diagnostic(err error) string {
	switch Classify(err) {
	case FailureRateLimit:
		return apology + rateLimitAdvice
	case FailurePermission:
		return apology + permissionAdvice
	default:
		return apology + genericAdvice
	}
}
