// Command pfsdec decrypts a PlayStation Vita protected filesystem image
// into a plaintext directory tree.
package main

import (
	"fmt"
	"os"
	"path"

	"github.com/absfs/osfs"
	"github.com/spf13/cobra"

	pfsdec "github.com/psvpfs/pfsdec"
	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/keyenc"
)

var (
	flagSource       string
	flagDest         string
	flagKlicensee    string
	flagZRIF         string
	flagKeyTableFile string
	flagWorkers      int
	flagDebug        bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pfsdec",
		Short: "decrypt a PlayStation Vita protected filesystem image",
		Long: `pfsdec parses a title's files.db and unicv.db/icv.db, binds every
integrity table to an on-disk file, and emits a decrypted copy of the
title tree to a destination directory.`,
		RunE: runDecrypt,
	}

	cmd.Flags().StringVar(&flagSource, "source", "", "path to the title directory to decrypt (required)")
	cmd.Flags().StringVar(&flagDest, "dest", "", "path to write the decrypted tree to (required)")
	cmd.Flags().StringVar(&flagKlicensee, "klicensee", "", "raw 32-hex-char klicensee")
	cmd.Flags().StringVar(&flagZRIF, "zrif", "", "zRIF license string (not implemented, documented for interface completeness)")
	cmd.Flags().StringVar(&flagKeyTableFile, "key-table", "", "path to a seed/derived-key lookup table for the F00D key encryptor")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "decrypt worker pool size (0 = sequential)")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	logger := pfsdec.NewLogger(cmd.OutOrStderr(), flagDebug)
	defer logger.Sync()

	srcFs := osfs.New()
	destFs := osfs.New()

	ke, err := buildKeyEncryptor()
	if err != nil {
		return err
	}

	cfg := &pfsdec.Config{
		Source:       srcFs,
		Dest:         destFs,
		TitleRoot:    flagSource,
		DestRoot:     flagDest,
		KlicenseeHex: flagKlicensee,
		ZRIF:         flagZRIF,
		KeyEncryptor: ke,
		Workers:      flagWorkers,
	}

	mounted, err := pfsdec.Mount(cfg, logger)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if err := pfsdec.DecryptFiles(cfg, mounted, mounted.Db.Header.ImageSpec, logger); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	logger.Info("keystone sanity check")
	if err := verifyKeystone(cfg, mounted); err != nil {
		return fmt.Errorf("keystone: %w", err)
	}

	if fe, ok := ke.(*keyenc.FileEncryptor); ok {
		logger.Info("f00d cache")
		fe.LogCache(logger)
	}

	return nil
}

func verifyKeystone(cfg *pfsdec.Config, m *pfsdec.Mounted) error {
	keystonePath := path.Join(cfg.DestRoot, pfsdec.KeystonePath)
	f, err := cfg.Dest.Open(keystonePath)
	if err != nil {
		return err
	}
	defer f.Close()

	return pfsdec.VerifyKeystone(crypto.New(), cfg.KeyEncryptor, m.Klicensee, f)
}

func buildKeyEncryptor() (keyenc.Encryptor, error) {
	if flagKeyTableFile == "" {
		return nil, fmt.Errorf("--key-table is required (native F00D encryptor is not wired to a hardware backend here)")
	}
	data, err := os.ReadFile(flagKeyTableFile)
	if err != nil {
		return nil, fmt.Errorf("key table: %w", err)
	}
	lines := splitLines(string(data))
	pairs, err := keyenc.ParseTable(lines)
	if err != nil {
		return nil, fmt.Errorf("key table: %w", err)
	}
	return keyenc.NewFileEncryptor(pairs), nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
