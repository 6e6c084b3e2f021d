package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hardy-3003/evidencestore/internal/ledger"
	"github.com/hardy-3003/evidencestore/internal/signer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	storeRoot string
	cfgFile   string
)

var ctx = context.Background()

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "evidencectl",
	Short: "Evidence store CLI",
	Long: `evidencectl operates a local tamper-evident evidence store.

It writes and reads ledger records, verifies blob and hash-chain
integrity, finalizes bundles, and signs payloads with the configured
signing keys.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.evidencectl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if storeRoot == "" {
			storeRoot = viper.GetString("store_root")
		}
		if storeRoot == "" {
			storeRoot = "evidence"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.evidencectl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeRoot, "store", "", "evidence store root directory (default ./evidence)")

	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(versionCmd)
}

func openLedger() (*ledger.Ledger, error) {
	logger := zap.NewNop()
	return ledger.Open(ctx, storeRoot, ledger.Options{
		BundleSizeLimit: viper.GetInt("bundle_size_limit"),
		Logger:          logger,
	})
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ── write ────────────────────────────────────────────────────────────────────

var (
	writeFile string
	writeData string
	writeJSON bool
	writeMeta []string
)

var writeCmd = &cobra.Command{
	Use:   "write <key>",
	Short: "Append a record for a key",
	Long: `Write persists a payload to the blob store and appends a chained,
bundled ledger record for the key. The payload comes from --data, --file,
or stdin; --json parses it as a JSON document so that semantically equal
structures hash identically regardless of key order.`,
	Args: cobra.ExactArgs(1),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVar(&writeFile, "file", "", "Read the payload from a file ('-' for stdin)")
	writeCmd.Flags().StringVar(&writeData, "data", "", "Inline payload")
	writeCmd.Flags().BoolVar(&writeJSON, "json", false, "Parse the payload as a JSON document")
	writeCmd.Flags().StringArrayVar(&writeMeta, "meta", nil, "Record metadata as key=value (repeatable)")
}

func runWrite(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	switch {
	case writeData != "":
		raw = []byte(writeData)
	case writeFile == "-":
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	case writeFile != "":
		raw, err = os.ReadFile(writeFile)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
	default:
		return fmt.Errorf("one of --data or --file is required")
	}

	var payload any = raw
	if writeJSON {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("parse payload as JSON: %w", err)
		}
		payload = v
	}

	metadata := map[string]any{}
	for _, kv := range writeMeta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --meta %q: expected key=value", kv)
		}
		metadata[k] = v
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	rec, err := l.Write(ctx, args[0], payload, metadata)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

// ── read ─────────────────────────────────────────────────────────────────────

var readFormat string

var readCmd = &cobra.Command{
	Use:   "read <key>",
	Short: "Print the latest payload for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		switch readFormat {
		case "json":
			v, err := l.ReadJSON(ctx, args[0])
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("key %q not found", args[0])
			}
			return printJSON(v)
		default:
			raw, err := l.Read(ctx, args[0])
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("key %q not found", args[0])
			}
			os.Stdout.Write(raw)
			fmt.Println()
			return nil
		}
	},
}

func init() {
	readCmd.Flags().StringVar(&readFormat, "format", "raw", "Output format: raw or json")
}

// ── record ───────────────────────────────────────────────────────────────────

var recordID string

var recordCmd = &cobra.Command{
	Use:   "record [<key>]",
	Short: "Print the latest record for a key, or a record by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		var rec *ledger.Record
		switch {
		case recordID != "":
			rec, err = l.ReadByID(ctx, recordID)
		case len(args) == 1:
			rec, err = l.ReadRecord(ctx, args[0])
		default:
			return fmt.Errorf("a key argument or --id is required")
		}
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("record not found")
		}
		return printJSON(rec)
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordID, "id", "", "Look up by record id instead of key")
}

// ── keys / records ───────────────────────────────────────────────────────────

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List all keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		keys, err := l.ListKeys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var recordsLimit int

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List records in write order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		records, err := l.ListRecords(ctx, recordsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RECORD ID\tKEY\tTIMESTAMP\tBUNDLE\tDATA HASH")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.RecordID, rec.Key,
				rec.Timestamp.Format(time.RFC3339),
				rec.BundleID, rec.DataHash,
			)
		}
		return w.Flush()
	},
}

func init() {
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 0, "Maximum records to list (0 = all)")
}

// ── verify / finalize / stats ────────────────────────────────────────────────

var verifyAll bool

var verifyCmd = &cobra.Command{
	Use:   "verify [<key>]",
	Short: "Check blob and hash-chain integrity",
	Long: `Verify re-reads the stored blob for a key, recomputes its SHA-256,
and checks the record's chain predecessor. With --all it sweeps every key
and exits non-zero if any fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		if verifyAll {
			passed, failed, err := l.VerifyAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("passed: %d\n", passed)
			if len(failed) > 0 {
				return fmt.Errorf("integrity check failed for keys: %s", strings.Join(failed, ", "))
			}
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("a key argument or --all is required")
		}
		if !l.VerifyIntegrity(ctx, args[0]) {
			return fmt.Errorf("integrity check failed for key %q", args[0])
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyAll, "all", false, "Verify every key")
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize the current bundle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		id, err := l.FinalizeBundle(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			fmt.Println("current bundle is empty, nothing to finalize")
			return nil
		}
		fmt.Println(id)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ledger and blob store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		st, err := l.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

// ── sign ─────────────────────────────────────────────────────────────────────

var (
	signKeyID     string
	signData      string
	signFile      string
	signJSON      bool
	signReplay    bool
	signTimestamp string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a payload with a configured key",
	Long: `Sign computes an HMAC-SHA256 authentication tag over the canonical
form of a payload.

Keys come from the config file: either explicit base64 secrets under
"signer.keys.<id>", or derived per id from "signer.master_secret" (and
optional "signer.salt") via HKDF-SHA256. With --replay the deterministic
signer is used: one master secret, a fixed --timestamp, byte-identical
signatures on every run.`,
	Args: cobra.NoArgs,
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signKeyID, "key-id", "default", "Signing key id")
	signCmd.Flags().StringVar(&signData, "data", "", "Inline payload")
	signCmd.Flags().StringVar(&signFile, "file", "", "Read the payload from a file")
	signCmd.Flags().BoolVar(&signJSON, "json", false, "Parse the payload as a JSON document")
	signCmd.Flags().BoolVar(&signReplay, "replay", false, "Use the deterministic replay signer")
	signCmd.Flags().StringVar(&signTimestamp, "timestamp", "", "Fixed RFC 3339 timestamp for --replay")
}

func runSign(cmd *cobra.Command, args []string) error {
	var raw []byte
	switch {
	case signData != "":
		raw = []byte(signData)
	case signFile != "":
		var err error
		raw, err = os.ReadFile(signFile)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
	default:
		return fmt.Errorf("one of --data or --file is required")
	}

	var payload any = raw
	if signJSON {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("parse payload as JSON: %w", err)
		}
		payload = v
	}

	s, err := buildSigner()
	if err != nil {
		return err
	}
	res, err := s.Sign(payload, signKeyID, nil)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// buildSigner assembles the configured signer behind a Switch so future
// commands can swap the backend without touching call sites.
func buildSigner() (signer.Signer, error) {
	master := []byte(viper.GetString("signer.master_secret"))

	if signReplay {
		if len(master) == 0 {
			return nil, fmt.Errorf("--replay requires signer.master_secret in config")
		}
		ts := time.Now().UTC()
		if signTimestamp != "" {
			parsed, err := time.Parse(time.RFC3339, signTimestamp)
			if err != nil {
				return nil, fmt.Errorf("parse --timestamp: %w", err)
			}
			ts = parsed
		}
		return signer.NewSwitch(signer.NewReplaySigner(master, ts)), nil
	}

	if encoded := viper.GetStringMapString("signer.keys"); len(encoded) > 0 {
		keys, err := signer.DecodeKeys(encoded)
		if err != nil {
			return nil, err
		}
		return signer.NewSwitch(signer.NewHMACSigner(keys)), nil
	}

	if len(master) > 0 {
		keys, err := signer.DeriveKeys(master, []byte(viper.GetString("signer.salt")), []string{signKeyID})
		if err != nil {
			return nil, err
		}
		return signer.NewSwitch(signer.NewHMACSigner(keys)), nil
	}

	return nil, fmt.Errorf("no signing keys configured: set signer.keys or signer.master_secret")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the evidencectl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("evidencectl", version)
	},
}
