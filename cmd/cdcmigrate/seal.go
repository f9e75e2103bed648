package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/secret"
)

func sealCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a password read from stdin for use in a sink group file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(a.cfg.SecretKey) == 0 {
				return errors.New("CDC_SECRET_KEY is required (base64, 16/24/32 bytes)")
			}
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			sealed, err := secret.Seal(a.cfg.SecretKey, strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Println(sealed)
			return nil
		},
	}
}
