package lending

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var highTargetWarning = decimal.RequireFromString("0.9")

// ValidationReport describes whether a curve is usable. Issues invalidate the
// curve; warnings flag likely misconfiguration without failing it.
type ValidationReport struct {
	IsValid  bool
	Issues   []string
	Warnings []string
	Config   CurveConfig
}

// ValidateThreeSlopeModel checks a curve for negative parameters and a
// target utilisation that leaves the second slope a positive width.
func ValidateThreeSlopeModel(curve CurveConfig) ValidationReport {
	report := ValidationReport{Config: curve.Clone()}
	if err := curve.CheckScales(); err != nil {
		report.Issues = append(report.Issues, err.Error())
		return report
	}

	for _, p := range []struct {
		name  string
		value FixedPoint
	}{
		{"r_base", curve.RBase},
		{"r_one", curve.ROne},
		{"r_two", curve.RTwo},
		{"r_three", curve.RThree},
		{"reactivity", curve.Reactivity},
	} {
		if p.value.Sign() < 0 {
			report.Issues = append(report.Issues, fmt.Sprintf("%s must be non-negative, got %s", p.name, p.value))
		}
	}

	target := curve.UtilTarget.Decimal()
	if !target.IsPositive() || !target.LessThan(one) {
		report.Issues = append(report.Issues, fmt.Sprintf("util_target must be in (0, 1), got %s", curve.UtilTarget))
	}
	if target.GreaterThanOrEqual(EmergencyUtilization) {
		report.Issues = append(report.Issues, fmt.Sprintf("util_target %s must be below the emergency threshold %s", curve.UtilTarget, EmergencyUtilization))
	} else if target.GreaterThan(highTargetWarning) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("util_target %s above %s may cause frequent emergency rate activation", curve.UtilTarget, highTargetWarning))
	}
	if curve.RThree.Decimal().LessThan(curve.RTwo.Decimal()) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("r_three %s is less steep than r_two %s", curve.RThree, curve.RTwo))
	}
	if !curve.MaxUtilization.IsZero() && curve.MaxUtilization.Decimal().LessThan(target) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("max_util %s is below util_target %s", curve.MaxUtilization, curve.UtilTarget))
	}

	report.IsValid = len(report.Issues) == 0
	return report
}

// String renders the status, then issues, then warnings.
func (r ValidationReport) String() string {
	var b strings.Builder
	if r.IsValid {
		b.WriteString("status: valid\n")
	} else {
		b.WriteString("status: invalid\n")
	}
	writeSection(&b, "issues", r.Issues)
	writeSection(&b, "warnings", r.Warnings)
	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, line := range lines {
		fmt.Fprintf(b, "  - %s\n", line)
	}
}
