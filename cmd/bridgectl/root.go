package main

import (
	"encoding/json"
	"fmt"

	"github.com/chinmina/weixin-bridge/internal/credential"
	"github.com/chinmina/weixin-bridge/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	open      OpenStore
	store     *Store
	module    string
	showToken bool
	verbose   bool
}

func NewRootCommand(open OpenStore) *cobra.Command {
	opts := &rootOptions{open: open}

	rootCmd := &cobra.Command{
		Use:   "bridgectl",
		Short: "Inspect and clear the weixin-bridge credential cache",
		Long: `bridgectl operates on the credential cache used by weixin-bridge. It reads
the service's environment configuration (CACHE_TYPE, VALKEY_*, CACHE_KEY_PREFIX
and CACHE_ENCRYPTION_*), so it sees exactly what the service stores.

Modules are "token" (account credentials) and "ticket" (component verify
tickets).`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose {
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}

			store, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			opts.store = store
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.store.Close()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log cache operations")

	rootCmd.AddCommand(
		newKeysCommand(opts),
		newSizeCommand(opts),
		newGetCommand(opts),
		newRemoveCommand(opts),
		newClearCommand(opts),
	)

	return rootCmd
}

// moduleArg resolves the optional module argument, defaulting to the token
// module.
func (o *rootOptions) moduleArg(args []string) (module, error) {
	name := token.TokenModule
	if len(args) > 0 {
		name = args[0]
	}
	return o.store.Module(name)
}

// printValue writes v as indented JSON. Tokens are redacted unless asked for.
func (o *rootOptions) printValue(cmd *cobra.Command, v any) error {
	if c, ok := v.(credential.Credential); ok && !o.showToken {
		c.Token = redact(c.Token)
		c.RefreshToken = redact(c.RefreshToken)
		v = c
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func redact(s string) string {
	const visible = 4
	if len(s) <= visible {
		return s
	}
	return s[:visible] + "…"
}
