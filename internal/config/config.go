// Package config loads the process configuration from environment
// variables via viper, binding each key individually and failing fast
// with a human-readable summary of whatever is missing.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	YahooEmail        string
	YahooAppPassword  string
	YahooIMAPHost     string
	YahooIMAPPort     int

	GmailOAuthClientID     string
	GmailOAuthClientSecret string
	GmailOAuthRedirectURI  string

	GmailLabel     string
	DeliverToInbox bool
	WatchMailboxes []string

	SQLitePath   string
	AppMasterKey string
	LogLevel     string

	AdminEnabled  bool
	AdminHost     string
	AdminPort     int
	AdminUsername string
	AdminPassword string

	PushoverEnabled        bool
	PushoverAPIToken       string
	PushoverUserKey        string
	PushoverCooldownMinutes int
}

// Error reports every missing required variable at once, the way the
// original's ConfigError aggregates them into one message instead of
// failing on the first.
type Error struct {
	Missing []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

func bindDefaults(v *viper.Viper) {
	v.SetDefault("yahoo_imap_host", "imap.mail.yahoo.com")
	v.SetDefault("yahoo_imap_port", 993)
	v.SetDefault("gmail_label", "yahoo")
	v.SetDefault("deliver_to_inbox", true)
	v.SetDefault("sqlite_path", "/data/app.db")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("admin_enabled", false)
	v.SetDefault("admin_host", "127.0.0.1")
	v.SetDefault("admin_port", 8080)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("pushover_enabled", false)
	v.SetDefault("pushover_cooldown_minutes", 60)
}

var bindNames = []string{
	"yahoo_email", "yahoo_app_password", "yahoo_imap_host", "yahoo_imap_port",
	"gmail_oauth_client_id", "gmail_oauth_client_secret", "gmail_oauth_redirect_uri",
	"gmail_label", "deliver_to_inbox", "watch_mailboxes",
	"sqlite_path", "app_master_key", "log_level",
	"admin_enabled", "admin_host", "admin_port", "admin_username", "admin_password",
	"pushover_enabled", "pushover_api_token", "pushover_user_key", "pushover_cooldown_minutes",
}

// Load reads every spec-named environment variable via viper's
// AutomaticEnv, applies defaults, and validates the required set.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	bindDefaults(v)
	for _, name := range bindNames {
		if err := v.BindEnv(name, strings.ToUpper(name)); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	var missing []string
	require := func(name string) string {
		val := v.GetString(name)
		if val == "" {
			missing = append(missing, strings.ToUpper(name))
		}
		return val
	}

	yahooEmail := require("yahoo_email")
	masterKey := require("app_master_key")
	clientID := require("gmail_oauth_client_id")
	clientSecret := require("gmail_oauth_client_secret")
	redirectURI := require("gmail_oauth_redirect_uri")

	if len(missing) > 0 {
		return Config{}, &Error{Missing: missing}
	}

	cfg := Config{
		YahooEmail:       yahooEmail,
		YahooAppPassword: v.GetString("yahoo_app_password"),
		YahooIMAPHost:    v.GetString("yahoo_imap_host"),
		YahooIMAPPort:    v.GetInt("yahoo_imap_port"),

		GmailOAuthClientID:     clientID,
		GmailOAuthClientSecret: clientSecret,
		GmailOAuthRedirectURI:  redirectURI,

		GmailLabel:     v.GetString("gmail_label"),
		DeliverToInbox: v.GetBool("deliver_to_inbox"),
		WatchMailboxes: parseMailboxes(v.GetString("watch_mailboxes")),

		SQLitePath:   v.GetString("sqlite_path"),
		AppMasterKey: masterKey,
		LogLevel:     v.GetString("log_level"),

		AdminEnabled:  v.GetBool("admin_enabled"),
		AdminHost:     v.GetString("admin_host"),
		AdminPort:     v.GetInt("admin_port"),
		AdminUsername: v.GetString("admin_username"),
		AdminPassword: v.GetString("admin_password"),

		PushoverEnabled:         v.GetBool("pushover_enabled"),
		PushoverAPIToken:        v.GetString("pushover_api_token"),
		PushoverUserKey:         v.GetString("pushover_user_key"),
		PushoverCooldownMinutes: v.GetInt("pushover_cooldown_minutes"),
	}
	return cfg, nil
}

func parseMailboxes(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Summary redacts secret fields for startup logging, matching the
// original's config_summary helper.
func Summary(c Config) map[string]any {
	setOrNot := func(s string) string {
		if s == "" {
			return "not_set"
		}
		return "set"
	}
	label := c.GmailLabel
	if label == "" {
		label = "disabled"
	}
	return map[string]any{
		"yahoo_email":               c.YahooEmail,
		"yahoo_app_password":        setOrNot(c.YahooAppPassword),
		"yahoo_imap_host":           c.YahooIMAPHost,
		"yahoo_imap_port":           c.YahooIMAPPort,
		"gmail_oauth_client_id":     setOrNot(c.GmailOAuthClientID),
		"gmail_oauth_client_secret": setOrNot(c.GmailOAuthClientSecret),
		"gmail_oauth_redirect_uri":  c.GmailOAuthRedirectURI,
		"gmail_label":               label,
		"deliver_to_inbox":          c.DeliverToInbox,
		"watch_mailboxes":           c.WatchMailboxes,
		"sqlite_path":               c.SQLitePath,
		"app_master_key":            setOrNot(c.AppMasterKey),
		"log_level":                 c.LogLevel,
		"admin_enabled":             c.AdminEnabled,
		"pushover_enabled":          c.PushoverEnabled,
	}
}
