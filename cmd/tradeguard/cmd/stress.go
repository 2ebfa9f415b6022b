package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradeguard/alerts"
	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/portfolio"
	"github.com/rustyeddy/tradeguard/stress"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Stress test a set of positions",
	Long: `Apply historical and hypothetical scenarios to positions read from a
YAML file and report the loss, margin call risk and alerts per account.

The positions file is a list:

  - account_id: paper-1
    symbol: AAPL
    side: long
    quantity: 100
    entry_price: 150
    current_price: 180

Examples:
  tradeguard stress --positions positions.yaml
  tradeguard stress --positions positions.yaml --scenario covid_crash_2020 --json`,
	RunE: runStress,
}

var (
	stressPositions string
	stressScenario  string
	stressJSON      bool
)

func init() {
	rootCmd.AddCommand(stressCmd)

	stressCmd.Flags().StringVarP(&stressPositions, "positions", "p", "", "positions YAML file (required)")
	stressCmd.Flags().StringVar(&stressScenario, "scenario", "", "run only this scenario id")
	stressCmd.Flags().BoolVar(&stressJSON, "json", false, "print results as JSON")
	_ = stressCmd.MarkFlagRequired("positions")
}

type positionEntry struct {
	AccountID    string  `yaml:"account_id"`
	Symbol       string  `yaml:"symbol"`
	Side         string  `yaml:"side"`
	Quantity     float64 `yaml:"quantity"`
	EntryPrice   float64 `yaml:"entry_price"`
	CurrentPrice float64 `yaml:"current_price"`
}

type stressReport struct {
	AccountID string          `json:"account_id"`
	Value     float64         `json:"value"`
	Results   []stress.Result `json:"results"`
	Alerts    []alerts.Breach `json:"alerts"`
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	cfg.RegisterInstruments()

	snaps, err := loadSnapshots(stressPositions, cfg)
	if err != nil {
		return err
	}

	eng := stress.NewEngine(log)
	for _, s := range cfg.Scenarios {
		if err := eng.Register(s); err != nil {
			return fmt.Errorf("scenario %s: %w", s.ID, err)
		}
	}

	profiles := cfg.Profiles()
	accounts := accountsByID(cfg)
	reports := make([]stressReport, 0, len(snaps))
	for _, snap := range snaps {
		var results []stress.Result
		if stressScenario != "" {
			r, err := eng.Run(cmd.Context(), stressScenario, snap)
			if err != nil {
				return err
			}
			results = []stress.Result{r}
		} else {
			results, err = eng.RunAll(cmd.Context(), snap)
			if err != nil {
				return err
			}
		}

		// Accounts missing from the config have no profile and so no limits;
		// margin call and liquidity alerts still apply.
		profile := profiles[accounts[snap.AccountID].RiskProfileID]
		reports = append(reports, stressReport{
			AccountID: snap.AccountID,
			Value:     snap.Value,
			Results:   results,
			Alerts:    alerts.Check(alerts.Input{AccountID: snap.AccountID, Profile: profile, Stress: results}),
		})
	}

	out := cmd.OutOrStdout()
	if stressJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, r := range reports {
		printStress(out, r)
	}
	return nil
}

// loadSnapshots reads the positions file and groups it by account. An
// account's value is its configured balance plus the unrealized P&L of its
// positions.
func loadSnapshots(path string, cfg *config.Config) ([]stress.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	var entries []positionEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no positions in %s", path)
	}

	accounts := accountsByID(cfg)
	byAccount := map[string]*stress.Snapshot{}
	for i, e := range entries {
		p, err := e.position(i + 1)
		if err != nil {
			return nil, err
		}
		snap, ok := byAccount[p.AccountID]
		if !ok {
			snap = &stress.Snapshot{AccountID: p.AccountID, Value: accounts[p.AccountID].Balance}
			byAccount[p.AccountID] = snap
		}
		snap.Value += p.UnrealizedPnL
		snap.Positions = append(snap.Positions, p)
	}

	out := make([]stress.Snapshot, 0, len(byAccount))
	for _, s := range byAccount {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (e positionEntry) position(n int) (portfolio.Position, error) {
	if e.Symbol == "" {
		return portfolio.Position{}, fmt.Errorf("position %d: symbol required", n)
	}
	if e.Quantity <= 0 || e.CurrentPrice <= 0 {
		return portfolio.Position{}, fmt.Errorf("position %d: quantity and current_price must be positive", n)
	}
	qty := e.Quantity
	switch portfolio.Side(strings.ToLower(e.Side)) {
	case portfolio.Long, "":
	case portfolio.Short:
		qty = -qty
	default:
		return portfolio.Position{}, fmt.Errorf("position %d: side must be long or short", n)
	}
	entry := e.EntryPrice
	if entry <= 0 {
		entry = e.CurrentPrice
	}
	acct := e.AccountID
	if acct == "" {
		acct = "default"
	}
	return portfolio.Position{
		ID:            fmt.Sprintf("pos-%d", n),
		AccountID:     acct,
		Symbol:        e.Symbol,
		Side:          portfolio.SideOf(qty),
		Quantity:      qty,
		EntryPrice:    entry,
		CurrentPrice:  e.CurrentPrice,
		UnrealizedPnL: qty * (e.CurrentPrice - entry),
		Status:        portfolio.StatusOpen,
	}, nil
}

func accountsByID(cfg *config.Config) map[string]portfolio.Account {
	out := make(map[string]portfolio.Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		out[a.ID] = a
	}
	return out
}

func printStress(w io.Writer, r stressReport) {
	fmt.Fprintf(w, "Account %s  value %.2f\n", r.AccountID, r.Value)
	fmt.Fprintf(w, "  %-24s %14s %8s %7s %9s\n", "SCENARIO", "LOSS", "LOSS%", "MARGIN", "RECOVERY")
	for _, res := range r.Results {
		margin := "no"
		if res.MarginCall {
			margin = "YES"
		}
		fmt.Fprintf(w, "  %-24s %14s %7.2f%% %7s %8dd\n",
			res.ScenarioID, res.Loss.StringFixed(2), res.LossPct*100, margin, res.RecoveryDays)
		for _, rec := range res.Recommendations {
			fmt.Fprintf(w, "      - %s\n", rec)
		}
	}
	if len(r.Alerts) == 0 {
		fmt.Fprintln(w, "  no alerts")
		return
	}
	fmt.Fprintln(w, "  Alerts:")
	for _, b := range r.Alerts {
		fmt.Fprintf(w, "    [%s] %s %s\n", b.Severity, b.Type, b.Message)
	}
}
