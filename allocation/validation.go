package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SumTolerance is the accepted drift of a percentage row from 100.
var SumTolerance = decimal.NewFromFloat(0.1)

var hundred = decimal.NewFromInt(100)

// ConfigIssue is one configuration problem. Issues never stop generation:
// the offending row is skipped and the issue is surfaced as a warning.
type ConfigIssue struct {
	Kind    string // matrix, seasonality, requirement, topology, capacity
	Key     string
	Message string
}

func (i ConfigIssue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Kind, i.Key, i.Message)
}

// SumsToHundred reports whether total is within SumTolerance of 100.
func SumsToHundred(total decimal.Decimal) bool {
	return total.Sub(hundred).Abs().LessThanOrEqual(SumTolerance)
}

// CheckMatrixRow validates one classification matrix row.
func CheckMatrixRow(r ClassificationMatrixRow) *ConfigIssue {
	for _, c := range Classifications {
		if r.From(c).IsNegative() {
			return &ConfigIssue{Kind: "matrix", Key: string(r.Destination),
				Message: fmt.Sprintf("negative pct_from_%s", c)}
		}
	}
	if !SumsToHundred(r.Total()) {
		return &ConfigIssue{Kind: "matrix", Key: string(r.Destination),
			Message: fmt.Sprintf("percentages sum to %s, expected 100 +/- %s", r.Total().String(), SumTolerance.String())}
	}
	return nil
}

// SplitMatrix separates usable rows from invalid ones. A duplicated
// destination keeps its first row.
func SplitMatrix(rows []ClassificationMatrixRow) (map[Classification]ClassificationMatrixRow, []ConfigIssue) {
	valid := make(map[Classification]ClassificationMatrixRow)
	var issues []ConfigIssue
	for _, r := range rows {
		if issue := CheckMatrixRow(r); issue != nil {
			issues = append(issues, *issue)
			continue
		}
		if _, dup := valid[r.Destination]; dup {
			issues = append(issues, ConfigIssue{Kind: "matrix", Key: string(r.Destination), Message: "duplicate row ignored"})
			continue
		}
		valid[r.Destination] = r
	}
	return valid, issues
}

// CheckSeasonality validates one seasonality curve.
func CheckSeasonality(s ProductSeasonality) *ConfigIssue {
	key := fmt.Sprintf("%s/%d", s.ProductID, s.Year)
	for i, m := range s.Months {
		if m.IsNegative() {
			return &ConfigIssue{Kind: "seasonality", Key: key, Message: fmt.Sprintf("negative percentage for month %d", i+1)}
		}
	}
	if !SumsToHundred(s.Total()) {
		return &ConfigIssue{Kind: "seasonality", Key: key,
			Message: fmt.Sprintf("months sum to %s, expected 100 +/- %s", s.Total().String(), SumTolerance.String())}
	}
	return nil
}

// CheckRequirement validates one city requirement against the topology.
func CheckRequirement(r CityRequirement, topo Topology) *ConfigIssue {
	if r.FromA < 0 || r.FromB < 0 || r.FromC < 0 {
		return &ConfigIssue{Kind: "requirement", Key: string(r.CityID), Message: "negative count"}
	}
	if _, ok := topo.City(r.CityID); !ok {
		return &ConfigIssue{Kind: "requirement", Key: string(r.CityID), Message: "unknown city"}
	}
	return nil
}

// CheckTopology reports nodes pointing at unknown cities and cities without
// any eligible node.
func CheckTopology(topo Topology) []ConfigIssue {
	var issues []ConfigIssue
	for _, n := range topo.Nodes {
		if _, ok := topo.City(n.CityID); !ok {
			issues = append(issues, ConfigIssue{Kind: "topology", Key: string(n.Code), Message: "node references unknown city " + string(n.CityID)})
		}
	}
	for _, c := range topo.SortedCities() {
		if len(topo.EligibleNodes(c.ID)) == 0 {
			issues = append(issues, ConfigIssue{Kind: "topology", Key: string(c.ID), Message: "city has no active node with a panelist"})
		}
	}
	return issues
}

// ValidateAccount runs every configuration check for an account.
func ValidateAccount(ctx context.Context, reader ConfigReader, account AccountID) ([]ConfigIssue, error) {
	var issues []ConfigIssue

	matrix, err := reader.ClassificationMatrix(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}
	_, matrixIssues := SplitMatrix(matrix)
	issues = append(issues, matrixIssues...)

	topo, err := reader.Topology(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	issues = append(issues, CheckTopology(topo)...)

	reqs, err := reader.CityRequirements(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("read city requirements: %w", err)
	}
	for _, r := range reqs {
		if issue := CheckRequirement(r, topo); issue != nil {
			issues = append(issues, *issue)
		}
	}

	capCfg, ok, err := reader.Capacity(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("read capacity: %w", err)
	}
	if ok && capCfg.MaxEventsPerPanelistWeek < 0 {
		issues = append(issues, ConfigIssue{Kind: "capacity", Key: string(account), Message: "negative weekly cap"})
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Kind < issues[j].Kind })
	return issues, nil
}

// ValidateSeasonality checks every stored curve of a product.
func ValidateSeasonality(ctx context.Context, reader ConfigReader, account AccountID, product ProductID) ([]ConfigIssue, error) {
	curves, err := reader.Seasonality(ctx, account, product)
	if err != nil {
		return nil, fmt.Errorf("read seasonality: %w", err)
	}
	var issues []ConfigIssue
	for _, s := range curves {
		if issue := CheckSeasonality(s); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}
