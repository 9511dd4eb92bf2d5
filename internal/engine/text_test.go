package engine

import "testing"

func TestApplyThinkingDirective(t *testing.T) {
	cases := []struct {
		prompt string
		mode   ThinkingMode
		want   string
	}{
		{"hello", ThinkingUnset, "hello"},
		{"hello", ThinkingOff, "hello /no_think"},
		{"hello", ThinkingOn, "hello /think"},
		{"hello /no_think", ThinkingOff, "hello /no_think"},
		{"hello /no_think\n", ThinkingOff, "hello /no_think\n"},
		{"", ThinkingOff, "/no_think"},
	}
	for _, c := range cases {
		if got := ApplyThinkingDirective(c.prompt, c.mode); got != c.want {
			t.Fatalf("ApplyThinkingDirective(%q, %v) = %q, want %q", c.prompt, c.mode, got, c.want)
		}
	}
	once := ApplyThinkingDirective("x", ThinkingOff)
	if twice := ApplyThinkingDirective(once, ThinkingOff); twice != once {
		t.Fatalf("directive duplicated: %q", twice)
	}
}

func TestRepairText(t *testing.T) {
	cases := map[string]string{
		"plain":                 "plain",
		`line\nbreak`:           "line\nbreak",
		`tab\there`:             "tab\there",
		`say \"hi\"`:            `say "hi"`,
		"<0xE2><0x9C><0x93> ok": "✓ ok",
		"<0x0A>":                "\n",
		"<0xFF>":                "<0xFF>",
		"▁word":                 " word",
		`\\n`:                   "\\\n",
	}
	for in, want := range cases {
		if got := RepairText(in); got != want {
			t.Fatalf("RepairText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseThinkingMode(t *testing.T) {
	for in, want := range map[string]ThinkingMode{"": ThinkingUnset, "on": ThinkingOn, "off": ThinkingOff, "no_think": ThinkingOff} {
		got, err := ParseThinkingMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseThinkingMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseThinkingMode("maybe"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestSplitReport(t *testing.T) {
	rep := Report{Engine: "llama.cpp", Tokens: 2}.String()
	text, got := SplitReport("hello world" + rep)
	if text != "hello world" || got != rep {
		t.Fatalf("SplitReport = %q, %q", text, got)
	}
	if text, got := SplitReport("no report"); text != "no report" || got != "" {
		t.Fatalf("SplitReport without report = %q, %q", text, got)
	}
}
