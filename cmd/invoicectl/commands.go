package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/apmatch-backend/internal/cron"
	"github.com/angelmondragon/apmatch-backend/internal/ingestion"
	"github.com/angelmondragon/apmatch-backend/internal/matching"
	pkgauth "github.com/angelmondragon/apmatch-backend/pkg/auth"
	"github.com/angelmondragon/apmatch-backend/pkg/auth/session"
	"github.com/angelmondragon/apmatch-backend/pkg/config"
	"github.com/angelmondragon/apmatch-backend/pkg/enums"
)

func newRootCmd(env *environment) *cobra.Command {
	root := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Operate invoice matching and payments from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		matchCmd(env),
		ingestCmd(env),
		confirmCmd(env),
		cancelCmd(env),
		sweepCmd(env),
		tokenCmd(env),
	)
	return root
}

func matchCmd(env *environment) *cobra.Command {
	var amountTol, percentTol string
	cmd := &cobra.Command{
		Use:   "match <invoice-id>",
		Short: "Match one invoice against open purchase orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invoiceID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid invoice id: %w", err)
			}
			opts, err := toleranceOptions(amountTol, percentTol)
			if err != nil {
				return err
			}

			svc, err := env.openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.close()

			result, err := svc.matching.Match(cmd.Context(), invoiceID, opts...)
			if err != nil {
				return err
			}
			if result == nil {
				fmt.Fprintln(env.out, "no match")
				return nil
			}
			return writeJSON(env, result)
		},
	}
	cmd.Flags().StringVar(&amountTol, "amount-tolerance", "", "flat tolerance in currency units (default from config)")
	cmd.Flags().StringVar(&percentTol, "percent-tolerance", "", "relative tolerance as a fraction (default from config)")
	return cmd
}

func toleranceOptions(amount, percent string) ([]matching.Option, error) {
	var opts []matching.Option
	if amount != "" {
		v, err := decimal.NewFromString(amount)
		if err != nil || v.IsNegative() {
			return nil, fmt.Errorf("invalid --amount-tolerance %q", amount)
		}
		opts = append(opts, matching.WithAmountTolerance(v))
	}
	if percent != "" {
		v, err := decimal.NewFromString(percent)
		if err != nil || v.IsNegative() {
			return nil, fmt.Errorf("invalid --percent-tolerance %q", percent)
		}
		opts = append(opts, matching.WithPercentTolerance(v))
	}
	return opts, nil
}

func ingestCmd(env *environment) *cobra.Command {
	var vendorID, sourceRef string
	cmd := &cobra.Command{
		Use:   "ingest <documents.json>...",
		Short: "Ingest extracted invoice documents and match them",
		Long:  "Each file holds one extracted document or a JSON array of them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ingestion.Options{SourceRef: sourceRef}
			if vendorID != "" {
				id, err := uuid.Parse(vendorID)
				if err != nil {
					return fmt.Errorf("invalid --vendor-id: %w", err)
				}
				opts.VendorOverrideID = &id
			}

			var items []ingestion.Item
			for _, path := range args {
				docs, err := readDocuments(path)
				if err != nil {
					return err
				}
				for _, doc := range docs {
					itemOpts := opts
					if itemOpts.SourceRef == "" {
						itemOpts.SourceRef = path
					}
					items = append(items, ingestion.Item{Document: doc, Options: itemOpts})
				}
			}

			svc, err := env.openServices(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer svc.close()

			results, batchErr := svc.ingestion.IngestBatch(cmd.Context(), items)
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(env.out, "#%d failed: %v\n", res.Index, res.Err)
					continue
				}
				matched := "not matched"
				if res.Outcome.Match != nil {
					matched = "matched " + res.Outcome.Match.PONumber
				}
				fmt.Fprintf(env.out, "#%d %s %s (%s)\n", res.Index, res.Outcome.InvoiceID, res.Outcome.Status, matched)
			}
			if batchErr != nil {
				return fmt.Errorf("%d of %d documents failed", len(multierr.Errors(batchErr)), len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor-id", "", "vendor the documents belong to")
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "source reference stored on each invoice (defaults to the file path)")
	return cmd
}

func readDocuments(path string) ([]ingestion.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var docs []ingestion.Document
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return docs, nil
	}
	var doc ingestion.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []ingestion.Document{doc}, nil
}

func confirmCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <payment-intent-id>",
		Short: "Re-read a payment intent from the processor and apply its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.close()

			result, err := svc.payments.Confirm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(env, result)
		},
	}
}

func cancelCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <payment-intent-id>",
		Short: "Cancel a pending payment and restore its invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.close()

			result, err := svc.payments.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(env, result)
		},
	}
}

func sweepCmd(env *environment) *cobra.Command {
	var staleAfter time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the payment reconcile sweep once, without the scheduler lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.close()

			if staleAfter <= 0 {
				staleAfter = svc.cfg.Reconcile.StaleAfter
			}
			if limit <= 0 {
				limit = svc.cfg.Reconcile.Limit
			}
			job, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
				Logger:     svc.logg,
				Payments:   svc.payments,
				StaleAfter: staleAfter,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if err := job.Run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(env.out, "sweep complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "minimum payment age (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum payments per sweep (default from config)")
	return cmd
}

func tokenCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint or revoke operator API tokens",
	}

	var operatorID, email, role string
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Print a signed operator token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := env.config()
			if err != nil {
				return err
			}
			parsedRole, err := enums.ParseOperatorRole(role)
			if err != nil {
				return err
			}
			id := uuid.New()
			if operatorID != "" {
				if id, err = uuid.Parse(operatorID); err != nil {
					return fmt.Errorf("invalid --operator-id: %w", err)
				}
			}
			token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
				OperatorID: id,
				Email:      email,
				Role:       parsedRole,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(env.out, token)
			return nil
		},
	}
	mint.Flags().StringVar(&operatorID, "operator-id", "", "operator id (random when empty)")
	mint.Flags().StringVar(&email, "email", "", "operator email")
	mint.Flags().StringVar(&role, "role", string(enums.OperatorRoleOperator), "viewer, operator or admin")

	revoke := &cobra.Command{
		Use:   "revoke <token-or-jti>",
		Short: "Revoke an operator token before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, client, err := env.openRedis(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			tokenID, err := tokenIDFromArg(cfg.JWT, args[0])
			if err != nil {
				return err
			}
			revocations, err := session.NewRevocations(client, cfg.JWT.TokenTTL())
			if err != nil {
				return err
			}
			if err := revocations.Revoke(ctx, tokenID); err != nil {
				return err
			}
			fmt.Fprintf(env.out, "revoked %s\n", tokenID)
			return nil
		},
	}

	cmd.AddCommand(mint, revoke)
	return cmd
}

// tokenIDFromArg accepts a bare jti or a signed token issued by this service.
func tokenIDFromArg(cfg config.JWTConfig, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if strings.Count(arg, ".") != 2 {
		if arg == "" {
			return "", fmt.Errorf("token id required")
		}
		return arg, nil
	}
	claims, err := pkgauth.ParseAccessToken(cfg, arg)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	return claims.ID, nil
}

func writeJSON(env *environment, v any) error {
	enc := json.NewEncoder(env.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
