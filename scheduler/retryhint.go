package scheduler

// RetryReason categorizes why an attempt failed, richer than a bare error
// string for policy and UI consumers. Grounded in the teacher's
// runtime/agent/planner.RetryHint.Reason vocabulary, narrowed to the
// failure modes an AgentExecutor can realistically report.
type RetryReason string

const (
	RetryReasonReduceScope       RetryReason = "reduce_scope"
	RetryReasonMissingInput      RetryReason = "missing_input"
	RetryReasonRateLimited       RetryReason = "rate_limited"
	RetryReasonTransientUpstream RetryReason = "transient_upstream"
)

// RetryHint is structured guidance an AgentExecutor attaches to a failed
// ExecuteResult so the next attempt's instructions can be adjusted instead
// of blindly repeating the same call. Grounded in the teacher's
// runtime/agent/planner.RetryHintProvider pattern, adapted from
// tool-call-level hints to task-attempt-level hints.
type RetryHint struct {
	Reason  RetryReason
	Message string
}

// RetryHintProvider may be implemented by an AgentExecutor.Execute error to
// surface a RetryHint without the Scheduler needing to parse error strings.
type RetryHintProvider interface {
	RetryHint() *RetryHint
}

// applyRetryHint appends a hint's guidance to instructions for the next
// attempt, if cause carries one.
func applyRetryHint(instructions string, cause error) string {
	provider, ok := cause.(RetryHintProvider)
	if !ok {
		return instructions
	}
	hint := provider.RetryHint()
	if hint == nil || hint.Message == "" {
		return instructions
	}
	return instructions + "\n\nRetry guidance (" + string(hint.Reason) + "): " + hint.Message
}
