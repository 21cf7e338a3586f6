package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/d21d3q/gosmartmeter/internal/options"
	"github.com/d21d3q/gosmartmeter/pkg/gosmartmeter"
)

var (
	rootCmd = &cobra.Command{
		Use:   "gosmartmeter-analyze [hex]",
		Short: "Decode encrypted M-Bus push notifications",
		Long: "gosmartmeter-analyze decrypts and decodes the M-Bus frames a smart meter " +
			"pushes on its customer interface. Without an argument it reads one hex " +
			"window per line from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := gosmartmeter.NewPipeline(pipelineOptions())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if len(args) == 0 {
				return runInteractive(ctx, p)
			}
			return runAnalyze(ctx, p, args[0])
		},
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate kind=value ...",
		Short: "Encode measurements into the frames a meter would send",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSimulate,
	}

	keyHex   string
	profile  string
	checksum bool
	verbose  bool

	simTitle   string
	simCounter uint32
	simTime    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte AES key (32 hex chars), defaults to $GOSMARTMETER_KEY")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", gosmartmeter.DefaultProfile, "meter profile")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log skipped elements")
	rootCmd.Flags().BoolVar(&checksum, "checksum", false, "verify M-Bus frame checksums")

	simulateCmd.Flags().StringVar(&simTitle, "title", "", "system title as 16 hex digits")
	simulateCmd.Flags().Uint32Var(&simCounter, "counter", 1, "invocation counter")
	simulateCmd.Flags().StringVar(&simTime, "time", "", "notification time (RFC 3339), defaults to now")
	rootCmd.AddCommand(simulateCmd)

	cobra.OnInitialize(func() {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	})
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func pipelineOptions() gosmartmeter.Options {
	return gosmartmeter.Options{
		KeyHex:         resolveKeyHex(),
		Profile:        profile,
		VerifyChecksum: checksum,
	}
}

func resolveKeyHex() string {
	if keyHex != "" {
		return keyHex
	}
	return os.Getenv(options.KeyEnv)
}

func runInteractive(ctx context.Context, p *gosmartmeter.Pipeline) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	logrus.Info("gosmartmeter analyze mode. Paste a hex window and press Enter (Ctrl+D to exit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runAnalyze(ctx, p, line); err != nil {
			logrus.WithError(err).
				WithField("stage", gosmartmeter.StageOf(err)).
				WithField("kind", gosmartmeter.Kind(err)).
				Error("failed to decode notification")
		}
	}
	return scanner.Err()
}

func runAnalyze(ctx context.Context, p *gosmartmeter.Pipeline, hexStr string) error {
	raw, err := gosmartmeter.ParseHex(hexStr)
	if err != nil {
		return err
	}
	result, err := p.Decode(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ms := make([]gosmartmeter.Measurement, 0, len(args))
	for _, arg := range args {
		m, err := gosmartmeter.ParseAssignment(arg)
		if err != nil {
			return err
		}
		ms = append(ms, m)
	}
	opts := gosmartmeter.EncodeOptions{
		KeyHex:            resolveKeyHex(),
		Profile:           profile,
		InvocationCounter: simCounter,
	}
	if simTitle != "" {
		title, err := hex.DecodeString(simTitle)
		if err != nil {
			return fmt.Errorf("--title: %w", err)
		}
		opts.SystemTitle = title
	}
	if simTime != "" {
		at, err := time.Parse(time.RFC3339, simTime)
		if err != nil {
			return fmt.Errorf("--time: %w", err)
		}
		opts.Time = at
	}
	raw, err := gosmartmeter.Encode(ms, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(raw)))
	return nil
}
