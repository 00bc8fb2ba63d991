package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"meshgate/internal/app"
	"meshgate/internal/channelurl"
	"meshgate/internal/platform"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "meshgate",
		Short:         "Mesh radio gateway service",
		Long:          "meshgate mediates between one mesh radio and its consumers: it mirrors mesh state, runs automation and exposes a virtual device.",
		Version:       app.BuildVersionWithDate(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.AddCommand(channelURLCommand())

	return cmd
}

func runService(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Two gateways sharing one database and radio corrupt both; refuse
	// to start a second instance.
	lock, err := platform.AcquireInstanceLock("meshgate")
	if err != nil {
		if errors.Is(err, platform.ErrInstanceAlreadyRunning) {
			slog.Error("another meshgate instance is already running")

			return err
		}
		if !errors.Is(err, platform.ErrInstanceLockUnsupported) {
			slog.Error("acquire instance lock", "error", err)

			return err
		}
	} else {
		defer func() {
			_ = lock.Release()
		}()
	}

	rt, err := app.Initialize(ctx, configPath)
	if err != nil {
		slog.Error("initialize runtime", "error", err)

		return err
	}
	defer func() {
		_ = rt.Close()
	}()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run runtime", "error", err)

		return err
	}

	return nil
}

// channelURLCommand decodes a shared channel URL for inspection.
func channelURLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "channel-url <url>",
		Short: "Decode a shared channel URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := channelurl.Decode(args[0])
			if err != nil {
				return err
			}
			for i, ch := range set.GetSettings() {
				name := ch.GetName()
				if name == "" {
					name = "(default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "channel %d: %s psk=%d bytes\n", i, name, len(ch.GetPsk()))
			}
			if lora := set.GetLoraConfig(); lora != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "lora: region=%s preset=%s\n",
					lora.GetRegion(), lora.GetModemPreset())
			}

			return nil
		},
	}
}
