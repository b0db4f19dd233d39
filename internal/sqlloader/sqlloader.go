// Package sqlloader implements the named-statement loader for the
// indexer's .sql files (C12): a small bespoke lexer, not a general SQL
// parser, grounded directly on §6's byte-level rules. No example repo in
// the pack parses SQL text client-side (the SQL libraries it imports —
// pgx, sqlx, goose — are drivers and migration runners, not statement
// lexers), so this is hand-rolled against stdlib bufio/strings per
// DESIGN.md.
package sqlloader

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ar-gateway/weave-gateway/internal/errs"
)

// Load parses r into name → body, per §6: statements are delimited by
// blank lines; a `-- name` comment immediately above a statement names it;
// `/* … */` block comments are stripped (including ones spanning multiple
// lines); `-- …` line comments are stripped unless inside a `'…'` string
// literal (with `\` escapes); leading whitespace inside a statement is
// preserved, trailing whitespace is trimmed.
func Load(r io.Reader) (map[string]string, error) {
	result := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentName string
	var lines []string
	inBlockComment := false
	unnamedCount := 0

	flush := func() {
		if len(lines) == 0 {
			currentName = ""
			return
		}
		body := strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
		name := currentName
		if name == "" {
			unnamedCount++
			name = fmt.Sprintf("statement_%d", unnamedCount)
		}
		result[name] = body
		currentName = ""
		lines = nil
	}

	for scanner.Scan() {
		raw := scanner.Text()

		wasInBlockComment := inBlockComment
		var stripped string
		stripped, inBlockComment = stripComments(raw, inBlockComment)

		if strings.TrimSpace(raw) == "" {
			flush()
			continue
		}

		trimmedLeft := strings.TrimLeft(raw, " \t")
		if len(lines) == 0 && !wasInBlockComment && strings.HasPrefix(trimmedLeft, "--") {
			currentName = strings.TrimSpace(strings.TrimPrefix(trimmedLeft, "--"))
			continue
		}

		if strings.TrimSpace(stripped) == "" {
			// The whole line was a stripped comment; §6 doesn't delimit
			// statements on these, only on genuinely blank source lines.
			continue
		}

		if wasInBlockComment && len(lines) > 0 {
			// The previous line's newline sat inside the block comment and
			// was stripped with it, so this text continues that line.
			lines[len(lines)-1] += stripped
			continue
		}
		lines = append(lines, stripped)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.KindMalformedInput, "sqlloader: scan failed", err)
	}
	flush()
	return result, nil
}

// stripComments removes block comments (tracking state across lines via
// inBlockComment) and trailing line comments from one line, respecting
// single-quoted string literals with backslash escapes.
func stripComments(line string, inBlockComment bool) (string, bool) {
	var out strings.Builder
	inString := false
	i := 0
	for i < len(line) {
		c := line[i]

		if inBlockComment {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inBlockComment = false
				i += 2
				continue
			}
			i++
			continue
		}

		if inString {
			out.WriteByte(c)
			if c == '\\' && i+1 < len(line) {
				out.WriteByte(line[i+1])
				i += 2
				continue
			}
			if c == '\'' {
				inString = false
			}
			i++
			continue
		}

		if c == '\'' {
			inString = true
			out.WriteByte(c)
			i++
			continue
		}
		if c == '/' && i+1 < len(line) && line[i+1] == '*' {
			inBlockComment = true
			i += 2
			continue
		}
		if c == '-' && i+1 < len(line) && line[i+1] == '-' {
			break // rest of line is a line comment
		}
		out.WriteByte(c)
		i++
	}
	return out.String(), inBlockComment
}
