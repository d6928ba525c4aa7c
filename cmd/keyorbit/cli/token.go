package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
		Long:  "Issue, list, and revoke API access tokens from the command line.",
	}

	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// discardLogger keeps CLI output clean; service-level logging only matters
// in the server process.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// resolveUser maps a --user flag value (email) to a user ID.
func resolveUser(ctx context.Context, st *store.Store, email string) (string, error) {
	u, err := st.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("user %q not found", email)
		}
		return "", err
	}
	return u.ID, nil
}

// ---------- token create ----------

func newTokenCreateCmd() *cobra.Command {
	var (
		user        string
		name        string
		description string
		permissions []string
		scopes      []string
		allowList   []string
		rateLimit   int
		expiresIn   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API token",
		Long:  "Issue a new API token for a user. The raw secret is shown once and cannot be retrieved again.",
		Example: `  keyorbit token create --user dev@example.com --name ci-deploy --permission key:read --permission key:write
  keyorbit token create --user dev@example.com --name reporting --permission audit:read --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(user, name, description, permissions, scopes, allowList, rateLimit, expiresIn)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner's email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Token name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Token description")
	cmd.Flags().StringArrayVar(&permissions, "permission", nil, "Permission to grant (repeatable)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "Scope to grant (repeatable)")
	cmd.Flags().StringArrayVar(&allowList, "allow-ip", nil, "IP or CIDR allowed to use the token (repeatable)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per hour (default 1000)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Lifetime as a duration, e.g. 720h (default 90 days)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runTokenCreate(user, name, description string, permissions, scopes, allowList []string, rateLimit int, expiresIn string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, user)
	if err != nil {
		return err
	}

	params := service.IssueParams{
		Name:        name,
		Description: description,
		Permissions: permissions,
		Scopes:      scopes,
		IPAllowList: allowList,
		RateLimit:   rateLimit,
	}
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		exp := time.Now().UTC().Add(d)
		params.ExpiresAt = &exp
	}

	lifecycle := service.NewLifecycle(st, newCodec(), discardLogger())
	issued, err := lifecycle.Issue(ctx, userID, params)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}

	fmt.Println("Token created:")
	fmt.Println()
	fmt.Printf("  Token: %s\n", issued.Secret)
	fmt.Printf("  ID:    %s\n", issued.Token.ID)
	fmt.Printf("  Name:  %s\n", issued.Token.Name)
	if len(issued.Token.Permissions) > 0 {
		fmt.Printf("  Perms: %s\n", strings.Join(issued.Token.Permissions, ", "))
	}
	if issued.Token.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", issued.Token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this token now - it cannot be retrieved again.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var (
		user           string
		includeRevoked bool
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenList(user, includeRevoked, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner's email address (required)")
	cmd.Flags().BoolVar(&includeRevoked, "include-revoked", false, "Include revoked tokens")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runTokenList(user string, includeRevoked, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, user)
	if err != nil {
		return err
	}

	lifecycle := service.NewLifecycle(st, newCodec(), discardLogger())
	tokens, err := lifecycle.List(ctx, userID, includeRevoked)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens. Use 'keyorbit token create' to issue one.")
		return nil
	}

	fmt.Printf("%-38s %-24s %-16s %-9s %-8s\n", "ID", "NAME", "PREVIEW", "STATUS", "USES")
	fmt.Printf("%-38s %-24s %-16s %-9s %-8s\n", "--", "----", "-------", "------", "----")
	for _, t := range tokens {
		fmt.Printf("%-38s %-24s %-16s %-9s %-8d\n", t.ID, t.Name, t.Preview, t.Status, t.UsageCount)
	}

	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(user, args[0])
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner's email address (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runTokenRevoke(user, tokenID string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	userID, err := resolveUser(ctx, st, user)
	if err != nil {
		return err
	}

	lifecycle := service.NewLifecycle(st, newCodec(), discardLogger())
	if err := lifecycle.Revoke(ctx, userID, tokenID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("token %q not found", tokenID)
		}
		return fmt.Errorf("revoke token: %w", err)
	}

	fmt.Printf("Revoked token %s\n", tokenID)
	return nil
}
