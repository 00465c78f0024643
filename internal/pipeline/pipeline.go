// Package pipeline prepares a fetched RFC822 message for Gmail import:
// integrity verification, trace-header injection, and the label set a
// message should carry on arrival.
package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
)

// Error reports a pipeline failure (integrity mismatch, malformed RFC822).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// SHA256Hex returns the lowercase hex SHA-256 digest of payload.
func SHA256Hex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// addHeaders inserts extra headers immediately before the first
// header/body separator. CRLF separators are preferred; bare LF is
// accepted as a fallback for source servers that don't send strict
// RFC822 line endings.
func addHeaders(raw []byte, headers map[string]string) ([]byte, error) {
	var sep, marker []byte
	switch {
	case strings.Contains(string(raw), "\r\n\r\n"):
		sep, marker = []byte("\r\n"), []byte("\r\n\r\n")
	case strings.Contains(string(raw), "\n\n"):
		sep, marker = []byte("\n"), []byte("\n\n")
	default:
		return nil, &Error{Op: "add_headers", Err: fmt.Errorf("RFC822 headers/body separator not found")}
	}

	idx := strings.Index(string(raw), string(marker))
	headerBlock, body := raw[:idx], raw[idx+len(marker):]

	var extra []string
	for _, key := range []string{"X-Y2G-Source", "X-Y2G-Mailbox", "X-Y2G-UIDValidity", "X-Y2G-UID", "X-Y2G-RFC822-SHA256"} {
		if v, ok := headers[key]; ok {
			extra = append(extra, key+": "+v)
		}
	}

	newHeaderBlock := append(append([]byte{}, headerBlock...), sep...)
	newHeaderBlock = append(newHeaderBlock, []byte(strings.Join(extra, string(sep)))...)

	out := append(newHeaderBlock, marker...)
	out = append(out, body...)
	return out, nil
}

// TraceHeaders is the set of X-Y2G-* headers stamped onto every imported
// message, letting a reader trace a Gmail message back to its exact
// source mailbox coordinates.
type TraceHeaders struct {
	Source       string
	Mailbox      string
	UIDValidity  uint32
	UID          uint32
	RFC822SHA256 string
}

func (h TraceHeaders) asMap() map[string]string {
	return map[string]string{
		"X-Y2G-Source":        h.Source,
		"X-Y2G-Mailbox":       h.Mailbox,
		"X-Y2G-UIDValidity":   strconv.FormatUint(uint64(h.UIDValidity), 10),
		"X-Y2G-UID":           strconv.FormatUint(uint64(h.UID), 10),
		"X-Y2G-RFC822-SHA256": h.RFC822SHA256,
	}
}

// PrepareRawMessage verifies raw against expectedSHA256 and returns a copy
// with trace headers injected. Returns an Error if the digest does not
// match or the message has no detectable header/body boundary.
func PrepareRawMessage(raw []byte, mailbox string, uidvalidity uint32, uid uint32, expectedSHA256 string) ([]byte, error) {
	actual := SHA256Hex(raw)
	if actual != expectedSHA256 {
		return nil, &Error{Op: "verify_sha256", Err: fmt.Errorf("RFC822 SHA256 mismatch: expected %s, got %s", expectedSHA256, actual)}
	}
	headers := TraceHeaders{
		Source:       "yahoo",
		Mailbox:      mailbox,
		UIDValidity:  uidvalidity,
		UID:          uid,
		RFC822SHA256: expectedSHA256,
	}
	return addHeaders(raw, headers.asMap())
}

// ExtractInReplyTo returns the trimmed In-Reply-To header value, or "" if
// absent.
func ExtractInReplyTo(raw []byte) string {
	header, err := parseHeaderOnly(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(header.Get("In-Reply-To"))
}

var referencesSplit = regexp.MustCompile(`\s+`)

// ExtractReferences splits the References header on whitespace, matching
// how mail clients chain together a message-id ancestry list.
func ExtractReferences(raw []byte) []string {
	header, err := parseHeaderOnly(raw)
	if err != nil {
		return nil
	}
	value := header.Get("References")
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range referencesSplit.Split(value, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseHeaderOnly(raw []byte) (message.Header, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		return message.Header{}, err
	}
	return entity.Header, nil
}

// HasSeenFlag reports whether the JSON-encoded flag list contains \Seen.
func HasSeenFlag(flagsJSON string) bool {
	if flagsJSON == "" {
		return false
	}
	var flags []string
	if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
		return false
	}
	for _, f := range flags {
		if f == `\Seen` {
			return true
		}
	}
	return false
}

// LabelPlan is the resolved set of label names a message should receive on
// import, before names are turned into Gmail label ids.
type LabelPlan struct {
	CustomLabel   string // the configured custom label; "" if none
	IncludeInbox  bool
	IncludeUnread bool
}

// ComputeLabelPlan decides which labels a message gets: the custom label
// whenever one is configured (independent of deliverToInbox), INBOX when
// deliverToInbox is true, and UNREAD unless the source copy was already
// \Seen.
func ComputeLabelPlan(customLabel string, deliverToInbox bool, flagsJSON string) LabelPlan {
	return LabelPlan{
		CustomLabel:   customLabel,
		IncludeInbox:  deliverToInbox,
		IncludeUnread: !HasSeenFlag(flagsJSON),
	}
}
