package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ggoodman/oidcguard/internal/logctx"
	"github.com/spf13/cobra"
)

func main() {
	Execute()
}

var (
	logFormat string
	logLevel  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "oidcguard",
	Short: "OpenID Connect bearer-token and session guard",
	Long: `oidcguard protects HTTP and GraphQL-style handlers with OpenID Connect.

Bearer tokens are verified against the provider's signing keys; browsers
without a token are sent through the authorization-code login flow and
carry a signed session cookie afterwards. All settings come from the
environment (OIDC_ISSUER, OIDC_CLIENT_ID, ...).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, checkTokenCmd)
}

// newLogger builds the process logger, decorated with request and identity
// attributes from the context.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", logFormat)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}
