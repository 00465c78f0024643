package cmd

import (
	"context"
	"fmt"

	"github.com/caseywylie/y2g/internal/config"
	"github.com/caseywylie/y2g/internal/credential"
	"github.com/caseywylie/y2g/internal/secretbox"
	"github.com/caseywylie/y2g/internal/store"
	"github.com/spf13/cobra"
)

var oauthCmd = &cobra.Command{
	Use:   "oauth [code]",
	Short: "Print the Gmail authorization URL, or exchange a code for tokens",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}

		masterKey, err := secretbox.LoadMasterKey(cfg.AppMasterKey)
		if err != nil {
			return fmt.Errorf("load master key: %w", err)
		}

		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer st.Close()
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		broker := credential.New(st, secretbox.Sealer{Key: masterKey}, credential.Config{
			ClientID:     cfg.GmailOAuthClientID,
			ClientSecret: cfg.GmailOAuthClientSecret,
			RedirectURI:  cfg.GmailOAuthRedirectURI,
		})

		fmt.Println(broker.AuthorizationURL())

		if len(args) == 0 {
			return nil
		}
		if err := broker.ExchangeCode(context.Background(), args[0]); err != nil {
			return fmt.Errorf("exchange code: %w", err)
		}
		fmt.Println("gmail oauth tokens saved")
		return nil
	},
}
