package watcher

import "testing"

func TestExtractMessageID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "angle bracket form",
			raw:  "From: a@example.com\r\nMessage-ID: <abc123@mail.example.com>\r\nSubject: hi\r\n\r\nbody",
			want: "<abc123@mail.example.com>",
		},
		{
			name: "lowercase header name",
			raw:  "message-id: <xyz@example.com>\r\n\r\nbody",
			want: "<xyz@example.com>",
		},
		{
			name: "no angle brackets falls back to trimmed value",
			raw:  "Message-ID: plain-value\r\n\r\nbody",
			want: "plain-value",
		},
		{
			name: "missing header",
			raw:  "From: a@example.com\r\n\r\nbody",
			want: "",
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got := extractMessageID([]byte(c.raw))
			if c.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %q", *got)
				}
				return
			}
			if got == nil || *got != c.want {
				t.Fatalf("got %v, want %q", got, c.want)
			}
		})
	}
}

func TestFlagsToJSON(t *testing.T) {
	t.Parallel()

	if got := flagsToJSON(nil); got != "[]" {
		t.Errorf("got %q, want []", got)
	}
	if got := flagsToJSON([]string{`\Seen`}); got != `["\\Seen"]` {
		t.Errorf("got %q", got)
	}
	if got := flagsToJSON([]string{`\Seen`, `\Answered`}); got != `["\\Seen","\\Answered"]` {
		t.Errorf("got %q", got)
	}
}
