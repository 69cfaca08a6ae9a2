// Package report emits the success/failure event stream consumed by
// external log processors. Every event carries a boolean agent_success
// tag so the two streams can be split with a single filter.
package report

import (
	"unicode/utf8"

	"finagent/internal/logging"
)

// previewLimit bounds the response preview recorded on success events.
const previewLimit = 120

// Reporter records terminal agent outcomes. All methods are
// fire-and-forget: they never return errors and never block the
// turn loop beyond a buffered log write.
type Reporter struct {
	log *logging.Logger
}

// New creates a Reporter writing through the given logger.
func New(log *logging.Logger) *Reporter {
	return &Reporter{log: log.Sub("report")}
}

// Success records a completed invocation with a truncated response preview.
func (r *Reporter) Success(contextID, taskID, preview string) {
	if r == nil {
		return
	}
	r.log.Info().
		Bool("agent_success", true).
		Str("context_id", contextID).
		Str("task_id", taskID).
		Str("response_preview", truncate(preview, previewLimit)).
		Msg("agent completed")
}

// Failure records a failed invocation with a machine-filterable reason
// and a free-form detail string.
func (r *Reporter) Failure(reason, contextID, taskID, detail string) {
	if r == nil {
		return
	}
	r.log.Error().
		Bool("agent_success", false).
		Str("context_id", contextID).
		Str("task_id", taskID).
		Str("reason", reason).
		Str("detail", detail).
		Msg("agent failed")
}

// truncate cuts on a rune boundary so the preview stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
