// Package assistant produces streamed chat replies for the career guidance API.
package assistant

import (
	"context"
	"iter"
	"strings"
	"time"
)

// SystemPrompt frames every conversation.
const SystemPrompt = `You are a career guidance counselor. Give practical, specific advice about
careers, skills and learning paths. Keep answers concise and use Markdown
lists where they help.`

// Responder streams a reply to one user message. Each yielded string is the
// next fragment of the reply.
type Responder interface {
	Stream(ctx context.Context, message string) iter.Seq2[string, error]
}

// Canned replies with a fixed message split into word-sized fragments. It is
// used when no model is configured so the stream endpoint still works in
// development.
type Canned struct {
	// Delay is paused between fragments.
	Delay time.Duration
}

var _ Responder = Canned{}

// Stream implements Responder.
func (c Canned) Stream(ctx context.Context, message string) iter.Seq2[string, error] {
	reply := "The assistant is running without a model. You asked: " + strings.TrimSpace(message)
	return func(yield func(string, error) bool) {
		for i, word := range strings.SplitAfter(reply, " ") {
			if i > 0 && c.Delay > 0 {
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-time.After(c.Delay):
				}
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}
