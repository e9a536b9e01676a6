package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [module]",
		Short: "List the keys stored in a module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.moduleArg(args)
			if err != nil {
				return err
			}

			keys := m.Keys(cmd.Context())
			if err := opts.store.Err(); err != nil {
				return err
			}

			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}
}

func newSizeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "size [module]",
		Short: "Count the entries stored in a module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.moduleArg(args)
			if err != nil {
				return err
			}

			size := m.Size(cmd.Context())
			if err := opts.store.Err(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), size)
			return nil
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.store.Module(opts.module)
			if err != nil {
				return err
			}

			v, ok := m.get(cmd.Context(), args[0])
			if err := opts.store.Err(); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s %q not found", opts.module, args[0])
			}

			return opts.printValue(cmd, v)
		},
	}

	addModuleFlag(cmd, opts)
	cmd.Flags().BoolVar(&opts.showToken, "show-token", false, "print tokens in full")

	return cmd
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a cached value, forcing the next request to refresh it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.store.Module(opts.module)
			if err != nil {
				return err
			}

			_, ok := m.remove(cmd.Context(), args[0])
			if err := opts.store.Err(); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s %q not found", opts.module, args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %s %q\n", opts.module, args[0])
			return nil
		},
	}

	addModuleFlag(cmd, opts)

	return cmd
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [module]",
		Short: "Remove every entry in a module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.moduleArg(args)
			if err != nil {
				return err
			}

			m.Clear(cmd.Context())
			if err := opts.store.Err(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

func addModuleFlag(cmd *cobra.Command, opts *rootOptions) {
	cmd.Flags().StringVarP(&opts.module, "module", "m", "token", `cache module: "token" or "ticket"`)
}
