package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/smallbiznis/companion/internal/deviceidentity"
	"github.com/smallbiznis/companion/internal/fingerprint"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type deviceFlags struct {
	storePath string
	screen    string
	ephemeral bool
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.storePath, "store", defaultStorePath(), "device identity file")
	cmd.PersistentFlags().StringVar(&f.screen, "screen", "1920x1080", "screen geometry reported in the fingerprint (WxH)")
	cmd.PersistentFlags().BoolVar(&f.ephemeral, "ephemeral", false, "keep the identity in memory only")
}

// open returns the identity store and a cleanup func. A store file that
// cannot be opened degrades to an in-memory identity.
func (f *deviceFlags) open(log *zap.Logger) (*deviceidentity.Store, func(), error) {
	screen, err := parseScreen(f.screen)
	if err != nil {
		return nil, nil, err
	}
	env := fingerprint.NewHostEnvironment(fingerprint.HostOptions{
		AgentName:    "companion-cli",
		AgentVersion: Version,
		Screen:       screen,
	})

	opts := deviceidentity.Options{Environment: env, Logger: log}
	cleanup := func() {}
	if !f.ephemeral {
		if err := os.MkdirAll(filepath.Dir(f.storePath), 0o700); err != nil {
			log.Warn("device store directory unavailable", zap.Error(err))
		} else if storage, err := deviceidentity.OpenBoltStorage(f.storePath); err != nil {
			log.Warn("device store unavailable, identity is not persisted", zap.Error(err))
		} else {
			opts.Storage = storage
			cleanup = func() { _ = storage.Close() }
		}
	}
	return deviceidentity.NewStore(opts), cleanup, nil
}

func deviceCmd() *cobra.Command {
	flags := &deviceFlags{}
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Inspect or reset this machine's guest device identity",
	}
	flags.register(cmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "id",
		Short: "Print the device id, creating it when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := flags.open(zap.NewNop())
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Fprintln(cmd.OutOrStdout(), store.GetOrCreate(cmd.Context()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := flags.open(zap.NewNop())
			if err != nil {
				return err
			}
			defer cleanup()
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "device identity cleared")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Print the device id and the fingerprint behind it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := flags.open(zap.NewNop())
			if err != nil {
				return err
			}
			defer cleanup()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(store.Info(cmd.Context()))
		},
	})

	return cmd
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "companion", "device.db")
}

func parseScreen(value string) (fingerprint.Screen, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return fingerprint.Screen{}, fmt.Errorf("invalid screen %q, want WxH", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return fingerprint.Screen{}, fmt.Errorf("invalid screen width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return fingerprint.Screen{}, fmt.Errorf("invalid screen height %q", h)
	}
	return fingerprint.Screen{Width: width, Height: height}, nil
}
