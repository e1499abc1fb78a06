package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/easysave/internal/crypto"
)

var decryptKey string

func newDecryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt SOURCE DEST",
		Short: "Restore a file that was encrypted during backup",
		Long: `Decrypt a backed-up file with the configured encryption key, or the key
given with --key. Files that were copied without encryption are rejected.`,
		Example: `  easysave decrypt /mnt/backup/docs/report.txt ./report.txt`,
		Args:    cobra.ExactArgs(2),
		RunE:    decryptRun,
	}
	cmd.Flags().StringVar(&decryptKey, "key", "", "encryption key (defaults to encryption.key from config)")
	return cmd
}

func decryptRun(cmd *cobra.Command, args []string) error {
	key := decryptKey
	if key == "" && globalCfg != nil {
		key = globalCfg.Encryption.Key
	}
	if key == "" {
		key = os.Getenv("EASYSAVE_KEY")
	}
	if key == "" {
		return fmt.Errorf("no encryption key configured; use --key or encryption.key")
	}

	src, dst := args[0], args[1]
	encrypted, err := crypto.IsEncryptedFile(src)
	if err != nil {
		return err
	}
	if !encrypted {
		return fmt.Errorf("%s was copied without encryption, restore it with a plain copy: %w", src, crypto.ErrNotEncrypted)
	}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := crypto.DecryptFile(crypto.NewSettings(key, nil), src, dst); err != nil {
		return err
	}
	fmt.Printf("Decrypted %s -> %s\n", src, dst)
	return nil
}
