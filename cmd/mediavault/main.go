// Command mediavault manages encrypted media vaults on a local directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/absfs/mediavault"
)

var rootCmd = &cobra.Command{
	Use:   "mediavault",
	Short: "Encrypted media vaults",
	Long: `mediavault stores images, videos, gifs and text under random file names in
password-protected vaults. Names, folders and content are encrypted.

Configuration is read from MEDIAVAULT_* environment variables. The password is
read from MEDIAVAULT_PASSWORD or prompted for on the terminal.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	rootDir   string
	vaultsDir string
	verbose   bool

	cfg    mediavault.Config
	logger zerolog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".",
		"Directory the vault storage lives in")
	rootCmd.PersistentFlags().StringVar(&vaultsDir, "vaults", "vaults",
		"Vault parent directory, relative to --root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	c, level, err := mediavault.ConfigFromEnv()
	if err != nil {
		return err
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = mediavault.NewConsoleLogger(level)
	c.Logger = &logger
	cfg = c
	return nil
}

func storage() mediavault.Storage {
	return mediavault.NewDirStorage(rootDir)
}

// resolveVault maps a directory token, or a unique prefix of one, to the
// vault directory.
func resolveVault(s mediavault.Storage, arg string) (string, error) {
	dirs, err := mediavault.Discover(s, vaultsDir)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, dir := range dirs {
		base := path.Base(dir)
		if base == arg {
			return dir, nil
		}
		if strings.HasPrefix(base, arg) {
			matches = append(matches, dir)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no vault matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d vaults", arg, len(matches))
	}
}

// openVault resolves arg and unlocks the vault with the configured password.
func openVault(ctx context.Context, arg string) (*mediavault.Vault, error) {
	s := storage()
	dir, err := resolveVault(s, arg)
	if err != nil {
		return nil, err
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return nil, err
	}
	return mediavault.Open(ctx, s, dir, password, cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
