package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	directiveThink   = "/think"
	directiveNoThink = "/no_think"

	maxRepairPasses = 3
)

// ApplyThinkingDirective appends the directive for mode to prompt unless the
// prompt already ends with it.
func ApplyThinkingDirective(prompt string, mode ThinkingMode) string {
	var d string
	switch mode {
	case ThinkingOn:
		d = directiveThink
	case ThinkingOff:
		d = directiveNoThink
	default:
		return prompt
	}
	if strings.HasSuffix(strings.TrimRight(prompt, " \t\r\n"), d) {
		return prompt
	}
	if prompt == "" {
		return d
	}
	return prompt + " " + d
}

var byteTokenRun = regexp.MustCompile(`(?:<0x[0-9A-Fa-f]{2}>)+`)

var escapeArtifacts = strings.NewReplacer(
	`\r\n`, "\n",
	`\n`, "\n",
	`\t`, "\t",
	`\"`, `"`,
	"▁", " ",
)

// RepairText fixes tokenizer artifacts in a decoded increment: runs of
// <0xHH> byte tokens that form valid UTF-8, literal escape sequences and
// sentencepiece word markers. It repeats until a pass changes nothing, at
// most maxRepairPasses times.
func RepairText(s string) string {
	for i := 0; i < maxRepairPasses; i++ {
		next := escapeArtifacts.Replace(byteTokenRun.ReplaceAllStringFunc(s, decodeByteRun))
		if next == s {
			break
		}
		s = next
	}
	return s
}

func decodeByteRun(run string) string {
	b := make([]byte, 0, len(run)/6)
	for i := 0; i+6 <= len(run); i += 6 {
		v, err := strconv.ParseUint(run[i+3:i+5], 16, 8)
		if err != nil {
			return run
		}
		b = append(b, byte(v))
	}
	if !utf8.Valid(b) {
		return run
	}
	return string(b)
}
