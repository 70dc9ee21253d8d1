package parse

import "strings"

// findCandidates returns every top-level JSON object or array span in s, in
// order of appearance. Quotes are only tracked inside a span so prose around
// the JSON cannot desynchronise the scan. Mismatched closers reset the scan.
func findCandidates(s string) []string {
	var (
		out      []string
		stack    []byte
		start    = -1
		inString bool
		escape   bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, b)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (open == '{' && b != '}') || (open == '[' && b != ']') {
				stack = stack[:0]
				start = -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// fencedBlocks returns the bodies of Markdown code fences, dropping any
// language tag on the opening line. An unterminated fence runs to the end.
func fencedBlocks(s string) []string {
	var blocks []string
	rest := s
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return blocks
		}
		body := rest[open+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "[{") {
			body = body[nl+1:]
		}
		end := strings.Index(body, "```")
		if end < 0 {
			blocks = append(blocks, strings.TrimSpace(body))
			return blocks
		}
		blocks = append(blocks, strings.TrimSpace(body[:end]))
		rest = body[end+3:]
	}
}

// stripFences removes fence markers but keeps their content.
func stripFences(s string) string {
	blocks := fencedBlocks(s)
	if len(blocks) == 0 {
		return s
	}
	return strings.Join(blocks, "\n")
}
