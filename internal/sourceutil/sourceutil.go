// Package sourceutil implements the three pure operations the orchestrator
// needs to turn raw script text into something compilable: pulling the
// embedded CRISPY_PARAMS directive out of it, stripping the header lines
// that must never reach the compiler, and shell-expanding the directive's
// value.
package sourceutil

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"crispy/internal/crispyerr"
)

const legacyDirectivePrefix = "#define"
const legacyDirectiveToken = "CRISPY_PARAMS"
const commentDirectivePrefix = "//crispy:params"

// ExtractDirective scans src line by line for the first line carrying a
// params directive, in either of two surface forms: the legacy
// "#define ... CRISPY_PARAMS \"...\"" line inherited from the original
// tool, or the Go-idiomatic "//crispy:params \"...\"" comment form. It
// returns the quoted substring between the first and last double quote on
// that line. Only the first match counts, whichever form it takes; later
// directive-shaped lines are left untouched by this function (they are the
// caller's problem, and StripHeader preserves them verbatim).
func ExtractDirective(src []byte) (value string, ok bool) {
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if value, ok := directiveValue(sc.Text()); ok {
			return value, true
		}
	}
	return "", false
}

// directiveValue reports the quoted value carried by line if it is either
// directive form, and "", false otherwise.
func directiveValue(line string) (value string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	switch {
	case strings.HasPrefix(trimmed, legacyDirectivePrefix) && strings.Contains(trimmed, legacyDirectiveToken):
	case strings.HasPrefix(trimmed, commentDirectivePrefix):
	default:
		return "", false
	}
	start := strings.Index(trimmed, `"`)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(trimmed, `"`)
	if end <= start {
		return "", false
	}
	return trimmed[start+1 : end], true
}

// StripHeader returns src with the shebang line (if line 1 begins with
// "#!") and the first CRISPY_PARAMS directive line removed. Every other
// line, including later directive-shaped lines, is preserved byte-for-byte
// and newline-terminated in the output.
func StripHeader(src []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	first := true
	directiveDropped := false
	for sc.Scan() {
		line := sc.Text()

		if first {
			first = false
			if strings.HasPrefix(line, "#!") {
				continue
			}
		}

		if !directiveDropped {
			if _, ok := directiveValue(line); ok {
				directiveDropped = true
				continue
			}
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// ShellExpand runs raw through a subshell so command substitutions and
// parameter expansion in a CRISPY_PARAMS value behave the way a shell user
// expects. An empty or absent directive yields "". The subshell command is
// built by naive string concatenation, matching the original tool's
// behavior: a raw value containing a double quote produces a malformed
// shell command rather than being escaped on the caller's behalf.
func ShellExpand(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", "printf '%s ' "+raw)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", crispyerr.Wrap(crispyerr.Params, stderr.String(), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
