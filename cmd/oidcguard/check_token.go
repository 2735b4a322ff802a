package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ggoodman/oidcguard/auth"
	"github.com/ggoodman/oidcguard/config"
	"github.com/spf13/cobra"
)

var checkTokenCmd = &cobra.Command{
	Use:   "check-token <jwt>",
	Short: "Verify a bearer token and print its identity",
	Long: `Verify a bearer token with the same rules the server applies
(issuer, audience, allowed algorithms, expiry and signature) and print the
resolved identity as JSON. Use "-" to read the token from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckToken,
}

func runCheckToken(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	opts, err := config.Load()
	if err != nil {
		return err
	}

	token := args[0]
	if token == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		token = string(bytes.TrimSpace(raw))
	}

	ctx := cmd.Context()
	sp, err := opts.SecurityConfig().NewAuthenticator(ctx, log)
	if err != nil {
		return err
	}
	defer sp.Close()

	ui, err := sp.CheckAuthentication(ctx, token)
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}
	id := auth.NewIdentity(ui)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(id)
}
