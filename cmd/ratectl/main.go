package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"blendrates/native/lending"
)

const (
	validateCommand = "validate"
	ratesCommand    = "rates"
	defaultCurves   = "./curves.toml"
)

// presetFile is the on-disk layout of curve presets:
//
//	[curves.usdc]
//	util_target = "0.75"
//	...
type presetFile struct {
	Curves map[string]lending.CurveParams `toml:"curves"`
}

var errInvalidCurves = errors.New("one or more curves are invalid")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case validateCommand:
		err = runValidate(args[1:], stdout, stderr)
	case ratesCommand:
		err = runRates(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ratectl <command> [flags]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  validate -curves FILE                     validate every curve preset")
	fmt.Fprintln(w, "  rates -curves FILE -curve NAME [flags]    compute rates for a reserve snapshot")
}

func runValidate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(validateCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	curvesPath := fs.String("curves", defaultCurves, "Path to the curve presets TOML file")
	format := fs.String("format", "auto", "Output format: auto, json or text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	presets, err := loadPresets(*curvesPath)
	if err != nil {
		return err
	}

	names := sortedNames(presets)
	reports := make(map[string]lending.ValidationReport, len(names))
	invalid := false
	for _, name := range names {
		curve, err := presets[name].Curve()
		if err != nil {
			return fmt.Errorf("curve %s: %w", name, err)
		}
		report := lending.ValidateThreeSlopeModel(curve)
		reports[name] = report
		invalid = invalid || !report.IsValid
	}

	if useJSON(*format, stdout) {
		out := make(map[string]validationJSON, len(reports))
		for name, report := range reports {
			out[name] = validationJSON{IsValid: report.IsValid, Issues: nonNil(report.Issues), Warnings: nonNil(report.Warnings)}
		}
		if err := writeJSON(stdout, out); err != nil {
			return err
		}
	} else {
		for _, name := range names {
			fmt.Fprintf(stdout, "== %s ==\n%s", name, reports[name])
		}
	}
	if invalid {
		return errInvalidCurves
	}
	return nil
}

type validationJSON struct {
	IsValid  bool     `json:"is_valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

func runRates(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(ratesCommand, flag.ContinueOnError)
	fs.SetOutput(stderr)
	curvesPath := fs.String("curves", defaultCurves, "Path to the curve presets TOML file")
	curveName := fs.String("curve", "", "Name of the curve preset")
	supplied := fs.String("supplied", "0", "Total supplied, in token units")
	borrowed := fs.String("borrowed", "0", "Total borrowed, in token units")
	decimals := fs.Uint("decimals", 7, "Asset decimals")
	takeRate := fs.String("take-rate", "0", "Backstop take rate in [0, 1]")
	modifier := fs.String("modifier", "", "Interest rate modifier (default 1.0)")
	dRate := fs.String("d-rate", "", "Debt index rate applied to borrowed principal")
	ceiling := fs.String("apy-ceiling", "", "Override the APY display ceiling")
	format := fs.String("format", "auto", "Output format: auto, json or text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *decimals > uint(lending.MaxScale) {
		return fmt.Errorf("decimals must not exceed %d", lending.MaxScale)
	}
	presets, err := loadPresets(*curvesPath)
	if err != nil {
		return err
	}
	params, ok := presets[strings.TrimSpace(*curveName)]
	if !ok {
		return fmt.Errorf("unknown curve %q (available: %s)", *curveName, strings.Join(sortedNames(presets), ", "))
	}
	curve, err := params.Curve()
	if err != nil {
		return fmt.Errorf("curve %s: %w", *curveName, err)
	}

	reserve := lending.ReserveState{ID: *curveName, AssetDecimals: uint8(*decimals), Curve: curve}
	if reserve.TotalSupplied, err = parseAmount("supplied", *supplied, reserve.AssetDecimals); err != nil {
		return err
	}
	if reserve.TotalBorrowed, err = parseAmount("borrowed", *borrowed, reserve.AssetDecimals); err != nil {
		return err
	}
	if *modifier != "" {
		m, err := decimal.NewFromString(*modifier)
		if err != nil {
			return fmt.Errorf("modifier: %w", err)
		}
		if reserve.IRModifier, err = lending.ToFixed(m, lending.RateScale); err != nil {
			return err
		}
	}
	if *dRate != "" {
		d, err := decimal.NewFromString(*dRate)
		if err != nil {
			return fmt.Errorf("d-rate: %w", err)
		}
		if reserve.DebtIndexRate, err = lending.ToFixed(d, lending.DebtIndexScale); err != nil {
			return err
		}
		reserve.ApplyDebtIndex = true
	}
	take, err := decimal.NewFromString(*takeRate)
	if err != nil {
		return fmt.Errorf("take-rate: %w", err)
	}

	opts := []lending.Option{lending.WithLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))}
	if *ceiling != "" {
		c, err := decimal.NewFromString(*ceiling)
		if err != nil {
			return fmt.Errorf("apy-ceiling: %w", err)
		}
		opts = append(opts, lending.WithAPYCeiling(c))
	}
	snapshot, err := lending.NewRateCalculator(opts...).Snapshot(reserve, take)
	if err != nil {
		return err
	}

	if useJSON(*format, stdout) {
		return writeJSON(stdout, ratesJSON{
			Curve:       *curveName,
			Utilization: snapshot.Utilization,
			BorrowAPR:   snapshot.BorrowAPR,
			SupplyAPR:   snapshot.SupplyAPR,
			BorrowAPY:   snapshot.BorrowAPY.Value,
			SupplyAPY:   snapshot.SupplyAPY.Value,
			Clamped:     snapshot.BorrowAPY.Clamped || snapshot.SupplyAPY.Clamped,
		})
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "curve\t%s\n", *curveName)
	fmt.Fprintf(tw, "utilization\t%s%%\n", lending.Percent(snapshot.Utilization).StringFixed(4))
	fmt.Fprintf(tw, "borrow apr\t%s%%\n", lending.Percent(snapshot.BorrowAPR).StringFixed(4))
	fmt.Fprintf(tw, "supply apr\t%s%%\n", lending.Percent(snapshot.SupplyAPR).StringFixed(4))
	fmt.Fprintf(tw, "borrow apy\t%s%%%s\n", lending.Percent(snapshot.BorrowAPY.Value).StringFixed(4), clampMark(snapshot.BorrowAPY))
	fmt.Fprintf(tw, "supply apy\t%s%%%s\n", lending.Percent(snapshot.SupplyAPY.Value).StringFixed(4), clampMark(snapshot.SupplyAPY))
	return tw.Flush()
}

type ratesJSON struct {
	Curve       string          `json:"curve"`
	Utilization decimal.Decimal `json:"utilization"`
	BorrowAPR   decimal.Decimal `json:"borrow_apr"`
	SupplyAPR   decimal.Decimal `json:"supply_apr"`
	BorrowAPY   decimal.Decimal `json:"borrow_apy"`
	SupplyAPY   decimal.Decimal `json:"supply_apy"`
	Clamped     bool            `json:"clamped"`
}

func loadPresets(path string) (map[string]lending.CurveParams, error) {
	var file presetFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to read curves: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if len(file.Curves) == 0 {
		return nil, fmt.Errorf("%s defines no curves", path)
	}
	return file.Curves, nil
}

// parseAmount converts a token amount such as "1000.5" to raw units at
// decimals. Amounts with more precision than decimals are rejected.
func parseAmount(name, raw string, decimals uint8) (*big.Int, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%s must not be negative", name)
	}
	if !amount.Equal(amount.Truncate(int32(decimals))) {
		return nil, fmt.Errorf("%s %s has more than %d decimals", name, amount, decimals)
	}
	fp, err := lending.ToFixed(amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return fp.Value, nil
}

func sortedNames(presets map[string]lending.CurveParams) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func useJSON(format string, w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return true
	case "text":
		return false
	}
	f, ok := w.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clampMark(apy lending.APY) string {
	if apy.Clamped {
		return " (clamped)"
	}
	return ""
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
