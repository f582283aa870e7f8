package domain

import "context"

// AgentRequest is the input of one agent turn.
type AgentRequest struct {
	SessionKey string
	CustomerID int64
	Text       string // annotated message, routing context included
}

// ResultKind discriminates AgentResult.
type ResultKind int

const (
	ResultPlainText ResultKind = iota + 1
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultPlainText:
		return "plain_text"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// AgentResult is either PlainText(Text) or Failure(Reason).
type AgentResult struct {
	Kind   ResultKind
	Text   string
	Reason string
}

func PlainText(text string) AgentResult {
	return AgentResult{Kind: ResultPlainText, Text: text}
}

func Failure(reason string) AgentResult {
	return AgentResult{Kind: ResultFailure, Reason: reason}
}

// OK reports whether the result carries a reply.
func (r AgentResult) OK() bool { return r.Kind == ResultPlainText }

// Agent answers one customer turn. Implementations never panic across this boundary
// on purpose; callers still recover.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) AgentResult
}
