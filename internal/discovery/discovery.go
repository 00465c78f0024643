// Package discovery selects which source mailboxes to watch when the
// operator hasn't named them explicitly, applying the same include/exclude
// substring rules the original mailbox scan used.
package discovery

import "strings"

var includeSubstrings = []string{"bulk", "junk", "spam"}
var excludeSubstrings = []string{"sent", "draft", "trash", "deleted", "archive"}

// Mailboxes filters allMailboxes down to INBOX plus any bulk/junk/spam
// mailbox that isn't also a sent/draft/trash/archive folder, preserving
// first-seen order and never returning the same name twice.
func Mailboxes(all []string) []string {
	seen := make(map[string]bool, len(all))
	var selected []string
	for _, name := range all {
		lower := strings.ToLower(name)
		switch {
		case lower == "inbox":
		case containsAny(lower, includeSubstrings) && !containsAny(lower, excludeSubstrings):
		default:
			continue
		}
		if !seen[name] {
			seen[name] = true
			selected = append(selected, name)
		}
	}
	return selected
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
