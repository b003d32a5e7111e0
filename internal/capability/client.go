// Package capability wraps the external generation capability behind a
// transport-agnostic interface. The governance core only requires an
// enforceable wall-clock timeout and independent per-invocation failure;
// which provider answers is a configuration detail.
package capability

import (
	"context"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    string // "system" or "user"
	Content string
}

// Request is a single generation invocation. Model selects the tier's
// quality profile; JSONReply hints that the reply must be machine-readable.
type Request struct {
	Model     string
	Messages  []Message
	JSONReply bool
}

// SystemPrompt returns the concatenated system messages.
func (r Request) SystemPrompt() string {
	var sys string
	for _, m := range r.Messages {
		if m.Role == "system" {
			if sys != "" {
				sys += "\n\n"
			}
			sys += m.Content
		}
	}
	return sys
}

// UserPrompt returns the concatenated non-system messages.
func (r Request) UserPrompt() string {
	var usr string
	for _, m := range r.Messages {
		if m.Role == "system" {
			continue
		}
		if usr != "" {
			usr += "\n\n"
		}
		usr += m.Content
	}
	return usr
}

// Client is the generation capability interface. Implementations make
// exactly one attempt per call: the pipeline's only retry policy is "try
// again next turn", because the judged data will have moved on by then.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}
