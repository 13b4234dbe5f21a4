package main

import (
	"fmt"
	"path"
	"sort"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/absfs/mediavault"
)

var createCmd = &cobra.Command{
	Use:     "create NAME",
	Short:   "Create a new vault",
	Example: `  MEDIAVAULT_PASSWORD=secret mediavault create Holiday`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCreate,
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "List vault directories",
	Long:  `Vaults lists directories that look like vaults. No password is needed.`,
	Args:  cobra.NoArgs,
	RunE:  runVaults,
}

var infoCmd = &cobra.Command{
	Use:   "info VAULT",
	Short: "Unlock a vault and show its name and contents summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd VAULT",
	Short: "Change a vault password and re-encrypt all content",
	Long: `Passwd re-derives the vault key from a new password and re-encrypts every
file. The new password is read from MEDIAVAULT_NEW_PASSWORD or prompted for.`,
	Args: cobra.ExactArgs(1),
	RunE: runPasswd,
}

var verifyCmd = &cobra.Command{
	Use:   "verify VAULT",
	Short: "Decrypt every file and report the ones that fail authentication",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(createCmd, vaultsCmd, infoCmd, passwdCmd, verifyCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	password, err := readNewPassword(passwordEnv)
	if err != nil {
		return err
	}
	v, err := mediavault.Create(cmd.Context(), storage(), vaultsDir, args[0], password, cfg)
	if err != nil {
		return err
	}
	defer v.Close()

	fmt.Fprintln(cmd.OutOrStdout(), path.Base(v.Dir()))
	return nil
}

func runVaults(cmd *cobra.Command, args []string) error {
	dirs, err := mediavault.Discover(storage(), vaultsDir)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		fmt.Fprintln(cmd.OutOrStdout(), path.Base(dir))
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	v, err := openVault(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	name, err := v.Name()
	if err != nil {
		name = "(undecryptable)"
	}
	entries, err := v.Index().Entries()
	if err != nil {
		return err
	}
	folders, err := v.Folders()
	if err != nil {
		return err
	}

	var total int64
	byType := make(map[mediavault.FileType]int)
	for _, e := range entries {
		byType[e.FileType]++
		if n, err := v.Size(e.FileName); err == nil {
			total += n
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name:    %s\n", name)
	fmt.Fprintf(out, "cipher:  %s\n", v.Cipher())
	fmt.Fprintf(out, "entries: %d (%s)\n", len(entries), mediavault.FormatSize(total))
	types := make([]mediavault.FileType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(out, "  %-6s %d\n", t, byType[t])
	}
	fmt.Fprintf(out, "folders: %d\n", len(folders))
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := storage()
	dir, err := resolveVault(s, args[0])
	if err != nil {
		return err
	}
	oldPassword, err := readPassword("Current password: ")
	if err != nil {
		return err
	}
	// Open wipes its copy; ChangePassword needs its own.
	unlockPassword := append([]byte(nil), oldPassword...)
	v, err := mediavault.Open(ctx, s, dir, unlockPassword, cfg)
	if err != nil {
		memguard.WipeBytes(oldPassword)
		return err
	}
	defer v.Close()

	newPassword, err := readNewPassword(newPasswordEnv)
	if err != nil {
		memguard.WipeBytes(oldPassword)
		return err
	}
	if err := v.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path.Base(v.Dir()))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	failures, err := v.Verify(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", name, failures[name])
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d file(s) failed verification", len(failures))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
