package pipeline

import (
	"strings"
	"testing"
)

const sampleRaw = "From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\nIn-Reply-To: <root@example.com>\r\nReferences: <root@example.com> <second@example.com>\r\n\r\nbody text\r\n"

func TestPrepareRawMessage_InjectsHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(sampleRaw)
	digest := SHA256Hex(raw)

	out, err := PrepareRawMessage(raw, "INBOX", 100, 42, digest)
	if err != nil {
		t.Fatalf("prepare raw message: %v", err)
	}

	got := string(out)
	for _, want := range []string{
		"X-Y2G-Mailbox: INBOX",
		"X-Y2G-UIDValidity: 100",
		"X-Y2G-UID: 42",
		"X-Y2G-RFC822-SHA256: " + digest,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected header %q in output, got:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "body text\r\n") {
		t.Errorf("body was altered: %q", got)
	}
}

func TestPrepareRawMessage_DigestMismatch(t *testing.T) {
	t.Parallel()

	raw := []byte(sampleRaw)
	if _, err := PrepareRawMessage(raw, "INBOX", 1, 1, "deadbeef"); err == nil {
		t.Errorf("expected digest mismatch error")
	}
}

func TestPrepareRawMessage_LFFallback(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: hi\n\nbody\n")
	digest := SHA256Hex(raw)

	out, err := PrepareRawMessage(raw, "INBOX", 1, 1, digest)
	if err != nil {
		t.Fatalf("prepare raw message: %v", err)
	}
	if !strings.Contains(string(out), "X-Y2G-UID: 1") {
		t.Errorf("expected header injected with LF separator, got:\n%s", out)
	}
}

func TestExtractInReplyTo(t *testing.T) {
	t.Parallel()

	if got := ExtractInReplyTo([]byte(sampleRaw)); got != "<root@example.com>" {
		t.Errorf("got %q", got)
	}
}

func TestExtractReferences(t *testing.T) {
	t.Parallel()

	got := ExtractReferences([]byte(sampleRaw))
	want := []string{"<root@example.com>", "<second@example.com>"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHasSeenFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		json string
		want bool
	}{
		{`[]`, false},
		{`["\\Seen"]`, true},
		{`["\\Answered"]`, false},
		{``, false},
	}
	for _, c := range cases {
		if got := HasSeenFlag(c.json); got != c.want {
			t.Errorf("HasSeenFlag(%q) = %v, want %v", c.json, got, c.want)
		}
	}
}

func TestComputeLabelPlan(t *testing.T) {
	t.Parallel()

	plan := ComputeLabelPlan("Bulk", true, `[]`)
	if plan.CustomLabel != "Bulk" || !plan.IncludeInbox || !plan.IncludeUnread {
		t.Errorf("unexpected plan: %+v", plan)
	}

	seenPlan := ComputeLabelPlan("", false, `["\\Seen"]`)
	if seenPlan.IncludeUnread {
		t.Errorf("expected no UNREAD label for a \\Seen message")
	}
}
