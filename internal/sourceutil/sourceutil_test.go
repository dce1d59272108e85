package sourceutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crispy/internal/crispyerr"
)

func TestExtractDirectiveFirstMatchOnly(t *testing.T) {
	src := []byte(`package main
#define CRISPY_PARAMS "-lm"
// #define CRISPY_PARAMS "-lpthread"
func main() {}
`)
	value, ok := ExtractDirective(src)
	require.True(t, ok)
	assert.Equal(t, "-lm", value)
}

func TestExtractDirectiveAbsent(t *testing.T) {
	_, ok := ExtractDirective([]byte("package main\nfunc main() {}\n"))
	assert.False(t, ok)
}

func TestExtractDirectiveEmptyValue(t *testing.T) {
	value, ok := ExtractDirective([]byte(`#define CRISPY_PARAMS ""` + "\n"))
	require.True(t, ok)
	assert.Equal(t, "", value)
}

func TestExtractDirectiveAcceptsLeadingWhitespaceAndCommentedLine(t *testing.T) {
	// The matcher is a line scanner, not a tokenizer: an indented
	// directive line inside a block comment still matches. This is
	// observed, deliberately-preserved behavior, not a bug.
	src := []byte("/*\n    #define CRISPY_PARAMS \"-lz\"\n*/\n")
	value, ok := ExtractDirective(src)
	require.True(t, ok)
	assert.Equal(t, "-lz", value)
}

func TestExtractDirectiveCommentFormIsRecognized(t *testing.T) {
	src := []byte("package main\n//crispy:params \"-tags demo\"\nfunc main() {}\n")
	value, ok := ExtractDirective(src)
	require.True(t, ok)
	assert.Equal(t, "-tags demo", value)
}

func TestExtractDirectiveCommentFormFirstMatchWinsOverLegacyForm(t *testing.T) {
	src := []byte("//crispy:params \"-tags demo\"\n#define CRISPY_PARAMS \"-lm\"\npackage main\n")
	value, ok := ExtractDirective(src)
	require.True(t, ok)
	assert.Equal(t, "-tags demo", value)
}

func TestStripHeaderDropsCommentFormDirective(t *testing.T) {
	src := []byte("package main\n//crispy:params \"-tags demo\"\nfunc main() {}\n")
	got := StripHeader(src)
	want := "package main\nfunc main() {}\n"
	assert.Equal(t, want, string(got))
}

func TestStripHeaderDropsShebangAndFirstDirectiveOnly(t *testing.T) {
	src := []byte("#!/usr/bin/crispy\n#define CRISPY_PARAMS \"-lm\"\npackage main\n#define CRISPY_PARAMS \"-lpthread\"\nfunc main() {}\n")
	got := StripHeader(src)
	want := "package main\n#define CRISPY_PARAMS \"-lpthread\"\nfunc main() {}\n"
	assert.Equal(t, want, string(got))
}

func TestStripHeaderWithoutShebangOrDirectiveIsUnchanged(t *testing.T) {
	src := []byte("package main\nfunc main() {}\n")
	assert.Equal(t, src, StripHeader(src))
}

func TestStripHeaderIdempotentOnAlreadyStrippedText(t *testing.T) {
	src := []byte("package main\nfunc main() {}\n")
	once := StripHeader(src)
	twice := StripHeader(once)
	assert.Equal(t, once, twice)
}

func TestShellExpandEmptyInput(t *testing.T) {
	got, err := ShellExpand(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestShellExpandRunsCommandSubstitution(t *testing.T) {
	got, err := ShellExpand(context.Background(), "`echo -lm`")
	require.NoError(t, err)
	assert.Equal(t, "-lm", got)
}

func TestShellExpandPreservesWordSplitting(t *testing.T) {
	got, err := ShellExpand(context.Background(), "-lm -lpthread")
	require.NoError(t, err)
	assert.Equal(t, "-lm -lpthread", got)
}

func TestShellExpandFailurePropagatesStderr(t *testing.T) {
	// An unterminated quote makes the generated "/bin/sh -c" command a
	// syntax error, which is exactly the malformed-command hazard the
	// directive-value contract warns about and deliberately does not
	// escape around.
	_, err := ShellExpand(context.Background(), `"`)
	require.Error(t, err)

	var cerr *crispyerr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, crispyerr.Params, cerr.Kind)
	assert.NotEmpty(t, cerr.Message)
}
