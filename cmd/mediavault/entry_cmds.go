package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/absfs/mediavault"
)

var importCmd = &cobra.Command{
	Use:   "import VAULT FILE...",
	Short: "Encrypt files into a vault",
	Example: `  mediavault import mv1_Ab3 beach.jpg clip.mp4 --folder 2024/summer
  mediavault import mv1_Ab3 notes.bin --type text`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

var lsCmd = &cobra.Command{
	Use:   "ls VAULT [FOLDER]",
	Short: "List the entries of a folder",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLs,
}

var exportCmd = &cobra.Command{
	Use:   "export VAULT NAME OUTPUT",
	Short: "Decrypt an entry to a file",
	Args:  cobra.ExactArgs(3),
	RunE:  runExport,
}

var mvCmd = &cobra.Command{
	Use:   "mv VAULT NAME FOLDER",
	Short: "Move an entry to another folder",
	Args:  cobra.ExactArgs(3),
	RunE:  runMv,
}

var rmCmd = &cobra.Command{
	Use:   "rm VAULT NAME...",
	Short: "Delete entries and their content",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRm,
}

var (
	importFolder string
	importType   string
	lsRecursive  bool
)

func init() {
	rootCmd.AddCommand(importCmd, lsCmd, exportCmd, mvCmd, rmCmd)

	importCmd.Flags().StringVarP(&importFolder, "folder", "f", "",
		"Virtual folder for the imported files")
	importCmd.Flags().StringVarP(&importType, "type", "t", "",
		"File type (image, gif, video, text); guessed from the extension if empty")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false,
		"List every folder")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	for _, file := range args[1:] {
		fileType, err := importFileType(file)
		if err != nil {
			return err
		}
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		entry, err := v.Import(ctx, f, fileType, importFolder)
		f.Close()
		if err != nil {
			return fmt.Errorf("import %s: %w", file, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", entry.FileName, filepath.Base(file))
	}
	return nil
}

func importFileType(file string) (mediavault.FileType, error) {
	if importType != "" {
		return mediavault.ParseFileType(importType)
	}
	t, ok := mediavault.FileTypeFromExtension(file)
	if !ok {
		return 0, fmt.Errorf("cannot guess the type of %s; use --type", file)
	}
	return t, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	v, err := openVault(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	folder := ""
	if len(args) == 2 {
		folder = args[1]
	}
	folders := []string{mediavault.NormalizeFolderPath(folder)}
	if lsRecursive {
		all, err := v.Folders()
		if err != nil {
			return err
		}
		folders = append([]string{""}, all...)
	}

	out := cmd.OutOrStdout()
	for _, f := range folders {
		entries, err := v.List(f)
		if err != nil {
			return err
		}
		for _, e := range entries {
			size := "?"
			if n, err := v.Size(e.FileName); err == nil {
				size = mediavault.FormatSize(n)
			}
			fmt.Fprintf(out, "%s\t%-5s\t%12s\t/%s\n", e.FileName, e.FileType, size, e.FolderPath)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	v, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	out, err := os.OpenFile(args[2], os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(args[2])
		}
	}()

	n, err := v.Export(ctx, args[1], out)
	if err != nil {
		return err
	}
	logger.Debug().Int64("bytes", n).Msg("exported")
	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()
	return v.Move(ctx, args[1], args[2])
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}
	defer v.Close()

	for _, name := range args[1:] {
		if err := v.Delete(ctx, name); err != nil {
			return fmt.Errorf("rm %s: %w", name, err)
		}
	}
	return nil
}
