package config

import "testing"

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("YAHOO_EMAIL", "")
	t.Setenv("APP_MASTER_KEY", "")
	t.Setenv("GMAIL_OAUTH_CLIENT_ID", "")
	t.Setenv("GMAIL_OAUTH_CLIENT_SECRET", "")
	t.Setenv("GMAIL_OAUTH_REDIRECT_URI", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required vars")
	}
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(cerr.Missing) != 5 {
		t.Fatalf("expected 5 missing vars, got %v", cerr.Missing)
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("YAHOO_EMAIL", "me@yahoo.com")
	t.Setenv("APP_MASTER_KEY", "aGVsbG8td29ybGQtaGVsbG8td29ybGQtMTIzNA==")
	t.Setenv("GMAIL_OAUTH_CLIENT_ID", "id")
	t.Setenv("GMAIL_OAUTH_CLIENT_SECRET", "secret")
	t.Setenv("GMAIL_OAUTH_REDIRECT_URI", "http://localhost/oauth2callback")
	t.Setenv("WATCH_MAILBOXES", "INBOX, Bulk Mail , ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.YahooIMAPHost != "imap.mail.yahoo.com" {
		t.Errorf("yahoo_imap_host default wrong: %q", cfg.YahooIMAPHost)
	}
	if cfg.YahooIMAPPort != 993 {
		t.Errorf("yahoo_imap_port default wrong: %d", cfg.YahooIMAPPort)
	}
	if cfg.GmailLabel != "yahoo" {
		t.Errorf("gmail_label default wrong: %q", cfg.GmailLabel)
	}
	if !cfg.DeliverToInbox {
		t.Errorf("deliver_to_inbox default wrong")
	}
	want := []string{"INBOX", "Bulk Mail"}
	if len(cfg.WatchMailboxes) != len(want) || cfg.WatchMailboxes[0] != want[0] || cfg.WatchMailboxes[1] != want[1] {
		t.Errorf("watch_mailboxes parsed wrong: %v", cfg.WatchMailboxes)
	}
}

func TestParseMailboxes_Empty(t *testing.T) {
	if got := parseMailboxes(""); got != nil {
		t.Errorf("expected nil for empty string, got %v", got)
	}
	if got := parseMailboxes("  ,  ,"); got != nil {
		t.Errorf("expected nil for all-blank parts, got %v", got)
	}
}
