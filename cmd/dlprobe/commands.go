package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thesyncim/godl/pkg/dl"
)

func newFilenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filename <base>",
		Short: "Print the platform file name for a library base name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), dl.PlatformFilename(args[0]))
			return nil
		},
	}
}

func newLocateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "locate <base>",
		Short: "Print the path a library base name resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.locator().Resolve(cmd.Context(), args[0])
			if path == "" {
				return err
			}
			if err != nil {
				a.logger.Warn("download failed, falling back to the system loader", zap.Error(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "open <library>",
		Short: "Open and close a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			if err := lib.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <library> <symbol>...",
		Short: "Print symbol addresses",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer lib.Close()

			failed := false
			for _, name := range args[1:] {
				opt, err := dl.FindOptional[unsafe.Pointer](lib, name)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
					failed = true
					continue
				}
				sym, ok := opt.Lift()
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s null\n", name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %#x\n", name, sym.Addr())
			}
			if failed {
				return errReported
			}
			return nil
		},
	}
}

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <library> <symbol> <uint32>",
		Short: "Call a uint32(uint32) function and print its result",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg, err := strconv.ParseUint(args[2], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid argument %q: %w", args[2], err)
			}

			lib, err := a.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer lib.Close()

			sym, err := dl.Find[func(uint32) uint32](lib, args[1])
			if err != nil {
				return err
			}
			return sym.Use(func(fn func(uint32) uint32) error {
				fmt.Fprintln(cmd.OutOrStdout(), fn(uint32(arg)))
				return nil
			})
		},
	}
}

// open treats a name with a dot or a directory as a loader argument and
// anything else as a base name for the locator.
func (a *app) open(cmd *cobra.Command, name string) (*dl.Library, error) {
	if strings.Contains(name, ".") || filepath.Base(name) != name {
		flags := a.cfg.Flags
		if flags == 0 {
			flags = dl.DefaultFlags
		}
		return dl.OpenWithFlags(name, flags)
	}
	return a.locator().Open(cmd.Context(), name)
}
