package types

import "testing"

func TestSplitPrompt(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		header string
		body   string
	}{
		{"no header", "A quiet street [Alex]", "", "A quiet street [Alex]"},
		{"header", "<header>\nmonochrome, 4 panels\n</header>\nA quiet street", "monochrome, 4 panels", "A quiet street"},
		{"unterminated header", "<header> oops", "", "<header> oops"},
		{"header not leading", "body <header>x</header>", "", "body <header>x</header>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := SplitPrompt(tt.raw)
			if p.Header != tt.header {
				t.Errorf("Header = %q, want %q", p.Header, tt.header)
			}
			if p.Body != tt.body {
				t.Errorf("Body = %q, want %q", p.Body, tt.body)
			}
		})
	}
}

func TestPromptJoinRoundTrip(t *testing.T) {
	p := Prompt{Header: "style: ink", Body: "Hello [Alex]"}
	got := SplitPrompt(p.Join())
	if got != p {
		t.Errorf("SplitPrompt(Join()) = %+v, want %+v", got, p)
	}

	plain := Prompt{Body: "just text"}
	if plain.Join() != "just text" {
		t.Errorf("Join() = %q, want body only", plain.Join())
	}
}
