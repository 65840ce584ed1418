package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"todoless/config"
)

func newTokenCmd() *cobra.Command {
	var (
		count  int
		prefix string
		start  int
		ttl    time.Duration
		output string
	)
	c := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint HS256 tokens for local auth mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Auth.Local() || cfg.Auth.SharedSecret == "" {
				return errors.New("token requires LOCAL_AUTH_MODE=hs256 and LOCAL_AUTH_SHARED_SECRET")
			}
			if count < 1 || start < 1 {
				return errors.New("count and start must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user ID cannot be provided when generating multiple tokens")
			}
			ids := tokenUserIDs(count, prefix, start, args)
			tokens := make([]string, len(ids))
			for i, id := range ids {
				tok, err := signLocalToken([]byte(cfg.Auth.SharedSecret), id, cfg.Auth.Audience, ttl, time.Now())
				if err != nil {
					return err
				}
				tokens[i] = tok
			}
			if output != "" {
				if err := writeTokens(output, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	c.Flags().IntVar(&count, "count", 1, "number of tokens to generate")
	c.Flags().StringVar(&prefix, "prefix", "dev-user", "user ID, or prefix for generated IDs when count > 1")
	c.Flags().IntVar(&start, "start", 1, "starting index for generated user IDs when count > 1")
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	c.Flags().StringVar(&output, "output", "", "file to write generated tokens as a JSON array")
	return c
}

func tokenUserIDs(count int, prefix string, start int, args []string) []string {
	switch {
	case len(args) > 0:
		return []string{args[0]}
	case count == 1:
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func signLocalToken(secret []byte, userID, audience string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
