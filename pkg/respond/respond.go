// Package respond produces conversational replies for transcripts that are
// not recognized as commands.
package respond

import "context"

// Responder turns a free-form user utterance into a short spoken reply.
type Responder interface {
	Reply(ctx context.Context, utterance string, history []Exchange) (string, error)
}

// Exchange is one prior user/agent turn supplied as context.
type Exchange struct {
	User  string
	Agent string
}

// Static replies with a fixed clarification line, ignoring the utterance.
// It is the fallback when no model-backed responder is configured.
type Static struct {
	Line string
}

// DefaultClarification is spoken when an utterance matches no command and no
// model is available.
const DefaultClarification = "I didn't catch a workflow command. You can say things like \"create a trigger node\" or \"run the workflow\"."

func (s Static) Reply(context.Context, string, []Exchange) (string, error) {
	if s.Line == "" {
		return DefaultClarification, nil
	}
	return s.Line, nil
}
