package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/handoff"
	"github.com/dhays4sports/usdc-bot/resolve"
	"github.com/dhays4sports/usdc-bot/router"
	"github.com/dhays4sports/usdc-bot/store"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Mint flags
	mintIssuer   string
	mintAudience string
	mintIntent   string
	mintFields   map[string]string
	mintTTL      time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trustroute",
	Short: "Command routing and handoff service for USDC payments on Base",
	Long: `trustroute classifies natural-language payment commands, hands them to
the surface that executes them with single-use signed tokens, and tracks the
resulting payment, remittance, and authorization records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the gRPC gateway",
	RunE:  runServe,
}

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a handoff token",
	Long: `Mints a signed single-use handoff token with the configured secret.

Example:
  trustroute mint --aud payments.chat --intent payment_link --field amount=5 --field recipientInput=device.eth`,
	RunE: runMint,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [token]",
	Short: "Check a token's signature and print its payload without consuming it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [command...]",
	Short: "Classify a hub command and print the routing preview",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML settings file")

	mintCmd.Flags().StringVar(&mintIssuer, "issuer", string(trustroute.SurfaceHub), "Issuing surface")
	mintCmd.Flags().StringVar(&mintAudience, "aud", "", "Audience surface (required)")
	mintCmd.Flags().StringVar(&mintIntent, "intent", "", "Intent name (required)")
	mintCmd.Flags().StringToStringVar(&mintFields, "field", nil, "Token field as key=value (repeatable)")
	mintCmd.Flags().DurationVar(&mintTTL, "ttl", handoff.DefaultTTL, "Token lifetime, clamped to [30s, 10m]")
	_ = mintCmd.MarkFlagRequired("aud")
	_ = mintCmd.MarkFlagRequired("intent")

	rootCmd.AddCommand(serveCmd, mintCmd, inspectCmd, classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := LoadSettings(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.run(ctx)
}

// offlineCodec builds a codec for the CLI. Minting and inspecting never
// take replay locks, so an in-process store is enough.
func offlineCodec() (*handoff.Codec, error) {
	settings, err := LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	return handoff.NewCodec(settings.HandoffSecret, store.NewMemoryStore(),
		handoff.WithClockSkew(settings.ClockSkew),
		handoff.WithLogger(logger),
	)
}

func runMint(cmd *cobra.Command, args []string) error {
	issuer, err := trustroute.ParseSurface(mintIssuer)
	if err != nil {
		return err
	}
	audience, err := trustroute.ParseSurface(mintAudience)
	if err != nil {
		return err
	}
	if !audience.IsHandoffAudience() {
		return fmt.Errorf("%s does not accept handoffs", audience)
	}

	codec, err := offlineCodec()
	if err != nil {
		return err
	}

	fields := make(trustroute.Fields, len(mintFields))
	for k, v := range mintFields {
		fields[k] = v
	}

	token, err := codec.Mint(cmd.Context(), handoff.MintRequest{
		Issuer:   issuer,
		Audience: audience,
		Intent:   mintIntent,
		Fields:   fields,
		TTL:      mintTTL,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	codec, err := offlineCodec()
	if err != nil {
		return err
	}

	payload, err := codec.Inspect(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), payload)
}

func runClassify(cmd *cobra.Command, args []string) error {
	settings, err := LoadSettings(configPath)
	if err != nil {
		return err
	}

	var remote trustroute.NameResolver
	if settings.ResolverURL != "" {
		remote = resolve.NewClient(settings.ResolverURL)
	}
	r := router.New(resolve.New(remote), router.WithLogger(logger))

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	preview, err := r.Classify(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), preview)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
