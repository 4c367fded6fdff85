package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"audiofetch/internal/auth"
)

func newEncodeSecretCmd(p prompter) *cobra.Command {
	var urlSafe bool
	cmd := &cobra.Command{
		Use:   "encode-secret [secret]",
		Short: "Print the base64 form of the server secret",
		Long: `Prints the value clients pass as ?secret=. When no argument is given the
secret is read from an interactive prompt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				value, err := p.Password("Server secret:")
				if err != nil {
					return fmt.Errorf("prompt cancelled: %w", err)
				}
				secret = value
			}
			encoded, err := encodeSecret(secret, urlSafe)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	cmd.Flags().BoolVar(&urlSafe, "url-safe", true, "use the URL-safe base64 alphabet")
	return cmd
}

func newEncodeCookiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode-cookies <cookies.txt>",
		Short: "Print YT_COOKIE_BASE64 for a Netscape cookie file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("read cookie file: %w", err)
			}
			encoded, err := encodeCookies(data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}

// encodeSecret encodes secret and checks the result against the same gate
// the service uses.
func encodeSecret(secret string, urlSafe bool) (string, error) {
	gate, err := auth.NewSecretGate(secret)
	if err != nil {
		return "", err
	}
	encoding := base64.StdEncoding
	if urlSafe {
		encoding = base64.URLEncoding
	}
	encoded := encoding.EncodeToString([]byte(secret))
	if err := gate.Authorize(encoded); err != nil {
		return "", fmt.Errorf("encoded secret rejected: %w", err)
	}
	return encoded, nil
}

var errNoCookies = errors.New("cookie file has no cookie lines")

// encodeCookies base64-encodes a Netscape cookie jar after checking that it
// holds at least one tab-separated cookie line.
func encodeCookies(data []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	cookies := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#HttpOnly_") {
			line = strings.TrimPrefix(line, "#HttpOnly_")
		} else if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Split(line, "\t"); len(fields) != 7 {
			return "", fmt.Errorf("malformed cookie line with %d fields: %q", len(fields), line)
		}
		cookies++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan cookie file: %w", err)
	}
	if cookies == 0 {
		return "", errNoCookies
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
