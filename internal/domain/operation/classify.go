package operation

import "strings"

// MaxMessageLength caps user-facing error messages. Every sentence in the
// table fits today; the cap binds entries added later.
const MaxMessageLength = 150

// Category is a user-facing class of mutation failure.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryTimeout      Category = "timeout"
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not_found"
	CategoryValidation   Category = "validation"
	CategoryServer       Category = "server"
	CategoryUnknown      Category = "unknown"
)

const fallbackMessage = "Something went wrong. Please try again."

type classification struct {
	category Category
	needles  []string
	message  string
}

// Order matters: the first matching entry wins.
var classifications = []classification{
	{CategoryNetwork, []string{"network", "connection", "fetch failed", "failed to fetch", "econnrefused", "offline"},
		"Network error. Please check your connection and try again."},
	{CategoryTimeout, []string{"timeout", "timed out", "etimedout"},
		"The request timed out. Please try again."},
	{CategoryUnauthorized, []string{"unauthorized", "401"},
		"Your session has expired. Please sign in again."},
	{CategoryForbidden, []string{"forbidden", "403"},
		"You don't have permission to perform this action."},
	{CategoryNotFound, []string{"not found", "404"},
		"The requested item could not be found."},
	{CategoryValidation, []string{"validation", "invalid", "400"},
		"Some of the provided data is invalid. Please review and try again."},
	{CategoryServer, []string{"500", "502", "503", "internal server", "server error"},
		"The server encountered an error. Please try again later."},
}

// Classify maps raw error text to its category.
func Classify(raw string) Category {
	lower := strings.ToLower(raw)
	for _, c := range classifications {
		for _, needle := range c.needles {
			if strings.Contains(lower, needle) {
				return c.category
			}
		}
	}
	return CategoryUnknown
}

// ClassifyError maps raw error text to a stable user-facing sentence.
// It never returns an empty string.
func ClassifyError(raw string) string {
	category := Classify(raw)
	for _, c := range classifications {
		if c.category == category {
			return truncate(c.message)
		}
	}
	return truncate(fallbackMessage)
}

// ClassifyErr is ClassifyError over an error value; nil yields the fallback.
func ClassifyErr(err error) string {
	if err == nil {
		return truncate(fallbackMessage)
	}
	return ClassifyError(err.Error())
}

// truncate shortens msg to MaxMessageLength runes, ending in "...".
func truncate(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxMessageLength {
		return msg
	}
	return string(runes[:MaxMessageLength-3]) + "..."
}
