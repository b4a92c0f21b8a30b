package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthqr/healthqr/internal/config"
	"github.com/healthqr/healthqr/internal/domain/grant"
	"github.com/healthqr/healthqr/internal/platform/clock"
	"github.com/healthqr/healthqr/internal/platform/db"
	"github.com/healthqr/healthqr/internal/platform/qr"
	"github.com/healthqr/healthqr/internal/platform/token"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthqr",
		Short: "QR-mediated scoped access to encrypted patient records",
	}

	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newTokenService builds the token service from the configured signing key.
func newTokenService(cfg *config.Config, logger zerolog.Logger) (*token.Service, error) {
	if cfg.TokenSigningKey == "" {
		return nil, fmt.Errorf("TOKEN_SIGNING_KEY is not configured")
	}
	return token.NewService([]byte(cfg.TokenSigningKey), clock.System{}, logger)
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a 32-byte hex key for encryption or token signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a claim token",
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose, _ := cmd.Flags().GetString("purpose")
			subject, _ := cmd.Flags().GetString("subject")
			grantID, _ := cmd.Flags().GetString("grant")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.ClaimTokenTTL()
			}
			svc, err := newTokenService(cfg, newLogger())
			if err != nil {
				return err
			}

			claims := map[string]any{}
			if subject != "" {
				claims["subjectIdentifier"] = subject
			}
			if grantID != "" {
				claims["grantId"] = grantID
			}

			issued, err := svc.IssueClaimToken(claims, purpose, ttl)
			if err != nil {
				return err
			}
			fmt.Println(issued.Token)
			fmt.Fprintf(os.Stderr, "expires at %s\n", issued.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	issueCmd.Flags().String("purpose", token.PurposeHealthcareAuthorization, "Token purpose claim")
	issueCmd.Flags().String("subject", "", "Subject identifier claim")
	issueCmd.Flags().String("grant", "", "Grant ID claim")
	issueCmd.Flags().Duration("ttl", token.DefaultClaimTTL, "Token lifetime")
	cmd.AddCommand(issueCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a claim token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose, _ := cmd.Flags().GetString("purpose")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc, err := newTokenService(cfg, newLogger())
			if err != nil {
				return err
			}

			claims, ok := svc.VerifyClaimToken(args[0], purpose)
			if !ok {
				return fmt.Errorf("token is invalid, expired, or has the wrong purpose")
			}
			out, err := json.MarshalIndent(claims, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	verifyCmd.Flags().String("purpose", token.PurposeHealthcareAuthorization, "Expected token purpose")
	cmd.AddCommand(verifyCmd)

	opaqueCmd := &cobra.Command{
		Use:   "opaque",
		Short: "Issue an opaque token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.OpaqueTokenTTL()
			}
			svc, err := newTokenService(cfg, newLogger())
			if err != nil {
				return err
			}

			issued, err := svc.IssueOpaqueToken(ttl)
			if err != nil {
				return err
			}
			fmt.Println(issued.Value)
			fmt.Fprintf(os.Stderr, "expires at %s\n", issued.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	opaqueCmd.Flags().Duration("ttl", token.DefaultOpaqueTTL, "Token lifetime")
	cmd.AddCommand(opaqueCmd)

	return cmd
}

func qrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Encode and decode QR payload envelopes",
	}

	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a QR payload envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")
			did, _ := cmd.Flags().GetString("did")
			grantID, _ := cmd.Flags().GetString("grant")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			codec := qr.NewCodec(clock.System{}, newLogger())

			var payload qr.Payload
			switch kind {
			case "identity":
				payload = codec.NewIdentityPayload(did)
			case "access-request":
				payload = codec.NewAccessRequestPayload(did, grantID, ttl)
			default:
				return fmt.Errorf("--type must be \"identity\" or \"access-request\", got %q", kind)
			}

			encoded, err := codec.Encode(payload)
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			return nil
		},
	}
	encodeCmd.Flags().String("type", "identity", "Payload type: identity or access-request")
	encodeCmd.Flags().String("did", "", "Patient digital identifier")
	encodeCmd.Flags().String("grant", "", "Grant ID (access-request only)")
	encodeCmd.Flags().Duration("ttl", 5*time.Minute, "Scan window (access-request only)")
	cmd.AddCommand(encodeCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode <payload>",
		Short: "Parse and validate a QR payload envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("type")

			expectedType := qr.TypeIdentity
			if kind == "access-request" {
				expectedType = qr.TypeAccessRequest
			}

			codec := qr.NewCodec(clock.System{}, newLogger())
			payload, ok := codec.Decode(args[0], expectedType)
			if !ok {
				return fmt.Errorf("payload rejected")
			}
			out, err := json.MarshalIndent(payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	decodeCmd.Flags().String("type", "identity", "Expected payload type: identity or access-request")
	cmd.AddCommand(decodeCmd)

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not configured")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not configured")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Transition active grants past their expiry to expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not configured")
			}

			logger := newLogger()
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := grant.NewEngine(grant.NewRepoPG(pool), nil, clock.System{}, logger)

			count, err := engine.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d expired grant(s).\n", count)

			if !watch {
				return nil
			}

			sweeper := grant.NewSweeper(engine, cfg.SweepInterval(), logger)
			sweeper.Start()
			defer sweeper.Close()
			fmt.Printf("Sweeping every %s; press Ctrl-C to stop.\n", cfg.SweepInterval())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
	cmd.Flags().Bool("watch", false, "Keep sweeping at SWEEP_INTERVAL_SECONDS until interrupted")
	return cmd
}
