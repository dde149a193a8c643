// Command boq submits a drawing to the extraction service and writes the
// bill of quantities as a spreadsheet.
//
//	boq -rate 0=450 -rate 3=1,200 -out report.xlsx plan.dwg
//
// Submissions are anonymous, so the service never emails the report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/cadboq/internal/boq"
	"github.com/JonMunkholm/cadboq/internal/core"
	"github.com/JonMunkholm/cadboq/internal/export"
	"github.com/JonMunkholm/cadboq/internal/extract"
	"github.com/JonMunkholm/cadboq/internal/logging"
)

func main() {
	// A missing .env is normal for the CLI.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "boq:", describe(err))
		}
		os.Exit(1)
	}
}

// describe pairs a known failure's support code with the technical detail.
func describe(err error) string {
	if !core.IsUserFacing(err) {
		return err.Error()
	}
	return fmt.Sprintf("%s\n  detail: %v", core.FormatUserError(err), err)
}

// rateOverride is one -rate index=value flag.
type rateOverride struct {
	index int
	raw   string
}

type rateFlags []rateOverride

func (r *rateFlags) String() string {
	parts := make([]string, len(*r))
	for i, o := range *r {
		parts[i] = fmt.Sprintf("%d=%s", o.index, o.raw)
	}
	return strings.Join(parts, ",")
}

func (r *rateFlags) Set(v string) error {
	idx, raw, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("want index=value, got %q", v)
	}
	i, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil || i < 0 {
		return fmt.Errorf("invalid item index %q", idx)
	}
	*r = append(*r, rateOverride{index: i, raw: raw})
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("boq", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		apiURL   = fs.String("api", envOr("BOQ_API_URL", extract.DefaultBaseURL), "extraction service base URL")
		path     = fs.String("path", envOr("BOQ_PROCESS_PATH", extract.DefaultProcessPath), "extraction endpoint path")
		timeout  = fs.Duration("timeout", extract.DefaultTimeout, "submission timeout")
		maxSize  = fs.String("max-size", "100MB", "largest drawing accepted")
		out      = fs.String("out", export.FileName, "spreadsheet to write")
		logLevel = fs.String("log-level", "warn", "log level: debug, info, warn, error")
		rates    rateFlags
	)
	fs.Var(&rates, "rate", "override a rate as index=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: boq [flags] drawing.dwg|drawing.dxf")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one drawing is required")
	}

	slog.SetDefault(logging.New(stderr, *logLevel, "text"))

	limit, err := units.RAMInBytes(*maxSize)
	if err != nil {
		return fmt.Errorf("invalid -max-size: %w", err)
	}

	name := fs.Arg(0)
	data, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	base := filepath.Base(name)
	if err := extract.CheckFile(base, int64(len(data)), limit, extract.DefaultAllowedExtensions); err != nil {
		return err
	}

	client := extract.NewClient(extract.Config{
		BaseURL:     *apiURL,
		ProcessPath: *path,
		Timeout:     *timeout,
	}, nil)

	start := time.Now()
	result, err := client.Submit(ctx, extract.Request{File: &extract.File{Name: base, Data: data}})
	if err != nil {
		return err
	}

	table := boq.NewTable(nil).Ingest(result.Items)
	for _, o := range rates {
		if table, err = table.SetRate(o.index, o.raw); err != nil {
			return fmt.Errorf("-rate %d: %w", o.index, err)
		}
	}

	artifact, err := export.Render(table)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, artifact.Data, 0o644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: %d items (%d estimated), grand total %.2f in %s\n",
		base, table.Len(), table.EstimatedCount(), table.GrandTotal(), time.Since(start).Round(time.Millisecond))
	if result.EmailStatus != nil {
		fmt.Fprintf(stdout, "email: %s\n", result.EmailStatus.Message)
	}
	fmt.Fprintf(stdout, "wrote %s (%s)\n", *out, units.HumanSize(float64(len(artifact.Data))))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
