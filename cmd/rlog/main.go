package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/realitylog/internal/auth"
	"github.com/jmerrifield20/realitylog/pkg/client"
	"github.com/jmerrifield20/realitylog/pkg/verify"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	logURL       string
	cfgFile      string
	outputFormat string
	timeout      time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rlog",
	Short: "Reality log CLI",
	Long: `rlog is the command-line interface for the reality log.

It appends content records, reads the current root, fetches and checks
inclusion proofs, and lists the anchor trail.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".rlog"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("rlog")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if logURL == "" {
			logURL = viper.GetString("log_url")
		}
		if logURL == "" {
			logURL = "http://127.0.0.1:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.rlog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logURL, "log", "", "log daemon URL (default http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")

	rootCmd.AddCommand(appendCmd, rootHashCmd, proveCmd, verifyCmd, entryCmd, anchorsCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(timeout)}
	if tok := viper.GetString("token"); tok != "" {
		opts = append(opts, client.WithBearerToken(tok))
	}
	return client.New(logURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput returns the contents of path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func parseIndex(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("index %q must be a non-negative integer", s)
	}
	return n, nil
}

// ── append ───────────────────────────────────────────────────────────────────

var appendFile string

var appendCmd = &cobra.Command{
	Use:   "append [payload]",
	Short: "Append a payload to the log",
	Long: `Append stores one opaque payload and prints the index it was given,
together with the tree size and root that now include it.

  rlog append '{"sha256":"9f86d0...","source":"camera-17"}'
  rlog append --file manifest.json

The producer token is read from the "token" config key or RLOG_TOKEN.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload string
		switch {
		case appendFile != "" && len(args) == 0:
			b, err := readInput(appendFile)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			payload = string(b)
		case appendFile == "" && len(args) == 1:
			payload = args[0]
		default:
			return errors.New("give either a payload argument or --file")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Append(context.Background(), payload)
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(res)
		}
		fmt.Printf("Index: %d\n", res.Index)
		fmt.Printf("Size:  %d\n", res.Size)
		fmt.Printf("Leaf:  %s\n", res.Leaf)
		fmt.Printf("Root:  %s\n", res.Root)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendFile, "file", "", "Read the payload from a file (- for stdin)")
}

// ── root ─────────────────────────────────────────────────────────────────────

var rootHashCmd = &cobra.Command{
	Use:   "root",
	Short: "Print the current tree size and root",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Root(context.Background())
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(res)
		}
		fmt.Printf("Tree size: %d\n", res.TreeSize)
		fmt.Printf("Root:      %s\n", res.Root)
		return nil
	},
}

// ── prove ────────────────────────────────────────────────────────────────────

var proveOut string

var proveCmd = &cobra.Command{
	Use:   "prove <index>",
	Short: "Fetch the inclusion proof for an entry",
	Long: `Prove fetches the inclusion proof for <index> at the current tree size.
The proof is printed as JSON (or written to --out) and can be checked later
with "rlog verify" without contacting the log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.Prove(context.Background(), index)
		if err != nil {
			return fmt.Errorf("prove %d: %w", index, err)
		}

		if proveOut == "" {
			return printJSON(p)
		}
		b, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(proveOut, append(b, '\n'), 0o644); err != nil {
			return fmt.Errorf("write proof: %w", err)
		}
		fmt.Printf("Proof for entry %d at tree size %d written to %s\n", p.Index, p.TreeSize, proveOut)
		return nil
	},
}

func init() {
	proveCmd.Flags().StringVar(&proveOut, "out", "", "Write the proof to this file instead of stdout")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyRemote bool

var verifyCmd = &cobra.Command{
	Use:   "verify <proof.json|->",
	Short: "Check an inclusion proof",
	Long: `Verify checks a proof document offline: it recomputes the root from the
leaf and audit path and compares it with the root the proof claims.

Use --remote to have the log daemon check it instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readInput(args[0])
		if err != nil {
			return fmt.Errorf("read proof: %w", err)
		}

		var valid bool
		var computed, expected string
		if verifyRemote {
			var p client.Proof
			if err := json.Unmarshal(doc, &p); err != nil {
				return fmt.Errorf("parse proof: %w", err)
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Verify(context.Background(), &p)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if res.Error != "" {
				return fmt.Errorf("malformed proof: %s", res.Error)
			}
			valid, computed, expected = res.Valid, res.ComputedRoot, res.ExpectedRoot
		} else {
			res, err := verify.Verify(doc)
			if err != nil {
				return err
			}
			valid, computed, expected = res.Valid, res.ComputedRoot, res.ExpectedRoot
		}

		if outputFormat == "json" {
			if err := printJSON(map[string]any{
				"valid":         valid,
				"computed_root": computed,
				"expected_root": expected,
			}); err != nil {
				return err
			}
		} else {
			fmt.Printf("Valid:         %t\n", valid)
			fmt.Printf("Computed root: %s\n", computed)
			fmt.Printf("Expected root: %s\n", expected)
		}
		if !valid {
			return errors.New("proof does not verify")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRemote, "remote", false, "Ask the log daemon to verify instead of checking locally")
}

// ── entry ────────────────────────────────────────────────────────────────────

var entryCmd = &cobra.Command{
	Use:   "entry <index>",
	Short: "Show a stored entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Entry(context.Background(), index)
		if err != nil {
			return fmt.Errorf("entry %d: %w", index, err)
		}
		if outputFormat == "json" {
			return printJSON(e)
		}
		fmt.Printf("Index:       %d\n", e.Index)
		fmt.Printf("Received at: %s\n", e.ReceivedAt.Format(time.RFC3339Nano))
		fmt.Printf("Leaf:        %s\n", e.Leaf)
		fmt.Printf("Payload:     %s\n", e.Payload)
		return nil
	},
}

// ── anchors ──────────────────────────────────────────────────────────────────

var anchorsCmd = &cobra.Command{
	Use:   "anchors",
	Short: "List the anchor trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		anchors, err := c.Anchors(context.Background())
		if err != nil {
			return fmt.Errorf("anchors: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(anchors)
		}
		if len(anchors) == 0 {
			fmt.Println("No anchors recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSIZE\tROOT\tTXID")
		for _, a := range anchors {
			ts := a.TimestampNanos
			if n, err := strconv.ParseInt(a.TimestampNanos, 10, 64); err == nil {
				ts = time.Unix(0, n).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", ts, a.TreeSize, shortHex(a.Root), shortHex(a.TxID))
		}
		return w.Flush()
	},
}

func shortHex(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "…"
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <producer>",
	Short: "Mint a producer token (operator only)",
	Long: `Token signs a producer token with the log's producer secret. The secret
is taken from --secret, the "producer_secret" config key or
RLOG_PRODUCER_SECRET, and must match logd.producer_secret on the daemon.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("producer_secret")
		}
		tokens, err := auth.NewTokenIssuer([]byte(secret), tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		token, err := tokens.Issue(args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(map[string]any{
				"producer":   args[0],
				"token":      token,
				"expires_in": int64(tokens.TTL().Seconds()),
			})
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Producer secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "rlog", "Token issuer; must match logd.token_issuer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default 720h)")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rlog CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rlog %s\n", version)
	},
}
