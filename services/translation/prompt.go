package translation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Shared numbered-list protocol for the chat-style backends: lines go out as
// "1. <text>" and must come back the same way. Hard breaks travel as the
// <br> sentinel so a model rewrapping output cannot split one line into two.

const breakSentinel = "<br>"

var numberedLineRe = regexp.MustCompile(`^\s*(\d+)\s*[.):]\s?(.*)$`)

// buildPrompt renders the translation instruction for a batch.
func buildPrompt(batch Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following %d subtitle lines from %s to %s.\n", len(batch.Lines), batch.SourceLang, batch.TargetLang)
	b.WriteString("Rules:\n")
	b.WriteString("- Reply with exactly one numbered line per input line, same numbering.\n")
	b.WriteString("- Keep the " + breakSentinel + " markers exactly where they appear.\n")
	b.WriteString("- Do not add explanations, notes or quotes.\n")
	b.WriteString("- Keep proper names unless the glossary says otherwise.\n")
	if batch.StyleHints != "" {
		b.WriteString("- Style: " + batch.StyleHints + "\n")
	}
	if len(batch.Glossary) > 0 {
		b.WriteString("Glossary (always use these translations):\n")
		for src, tgt := range batch.Glossary {
			fmt.Fprintf(&b, "- %s => %s\n", src, tgt)
		}
	}
	b.WriteString("\nLines:\n")
	for i, line := range batch.Lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.ReplaceAll(line, "\n", breakSentinel))
	}
	return b.String()
}

// parseNumberedResponse extracts n translated lines from a model reply.
// Unnumbered continuation lines are merged into the previous entry; if the
// count still mismatches after merging, the result is truncated or padded
// with empty strings and ok reports false.
func parseNumberedResponse(reply string, n int) ([]string, bool) {
	lines := strings.Split(strings.TrimSpace(reply), "\n")
	out := make([]string, 0, n)
	for _, raw := range lines {
		raw = strings.TrimRight(raw, " \t")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if m := numberedLineRe.FindStringSubmatch(raw); m != nil {
			if idx, err := strconv.Atoi(m[1]); err == nil && idx == len(out)+1 {
				out = append(out, m[2])
				continue
			}
			// Out-of-sequence number: treat as continuation.
		}
		if len(out) > 0 {
			out[len(out)-1] += " " + strings.TrimSpace(raw)
		}
	}

	ok := len(out) == n
	for len(out) < n {
		out = append(out, "")
	}
	if len(out) > n {
		out = out[:n]
	}
	for i, line := range out {
		out[i] = strings.ReplaceAll(line, breakSentinel, "\n")
	}
	return out, ok
}
