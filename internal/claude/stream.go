package claude

import (
	"strings"

	"agenttrace/internal/ingest"
	"agenttrace/internal/trace"
)

// ParseLines classifies a batch of raw JSONL lines with no file access. It is
// the follow-mode counterpart of Parse: the caller tails a transcript, hands
// over whatever complete lines arrived, and folds the result into its running
// session. Lines that do not decode are dropped. No deduplication and no
// subagent lookup happen here; each call starts from a fresh state, so call
// correlation only spans a single batch.
func ParseLines(lines []string) trace.Partial {
	sess := &trace.Session{}
	st := newParseState(sess)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if err := st.consume([]byte(trimmed)); err != nil {
			continue
		}
	}

	partial := trace.Partial{Events: sess.Events}
	if st.recognized {
		agent := sess.Agent
		agent.Provider = ingest.FirstNonEmpty(agent.Provider, "anthropic")
		agent.Tool = ingest.FirstNonEmpty(agent.Tool, "claude-code")
		partial.Agent = &agent

		if sess.SessionID != "" {
			sess.Context.FillAttr(trace.AttrSessionID, sess.SessionID)
		}
		ctx := sess.Context
		partial.Context = &ctx
	}
	return partial
}
