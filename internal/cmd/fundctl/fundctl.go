// Package fundctl implements a small operator CLI for the funding service.
// It talks to the HTTP API and renders human-readable summaries.
package fundctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Config holds fundctl command configuration.
type Config struct {
	BaseURL string
	DBPath  string
	Args    []string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Remaining arguments select the
// subcommand and its operands.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		BaseURL: envOrDefault(lookup, []string{"CYCLEFUND_FUNDING_URL"}, "http://localhost:8080"),
		DBPath:  envOrDefault(lookup, []string{"CYCLEFUND_FUNDING_DB_PATH"}, ""),
	}

	fs.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "The funding server base URL")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The funding database path (offline commands)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

const usage = `usage: fundctl [-url <base>] <command> [args]

commands:
  presets                      list contract presets
  list                         list contracts
  get <contract>               print one contract as JSON
  status <contract>            print a contract summary
  check <contract> <owner> <index>  project a position's principal, shares, fees
  balance <address>            print a token balance
  verify                       scan a database offline for conservation violations (-db)
`

// Run executes one fundctl command and writes output to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if len(cfg.Args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("command is required")
	}

	c := client{base: strings.TrimRight(cfg.BaseURL, "/")}
	command, operands := cfg.Args[0], cfg.Args[1:]
	switch command {
	case "presets":
		return c.printJSON(ctx, out, "/v1/presets")
	case "list":
		return c.printJSON(ctx, out, "/v1/contracts")
	case "get":
		if len(operands) != 1 {
			return fmt.Errorf("usage: fundctl get <contract>")
		}
		return c.printJSON(ctx, out, "/v1/contracts/"+url.PathEscape(operands[0]))
	case "status":
		if len(operands) != 1 {
			return fmt.Errorf("usage: fundctl status <contract>")
		}
		return c.printStatus(ctx, out, operands[0])
	case "check":
		if len(operands) != 3 {
			return fmt.Errorf("usage: fundctl check <contract> <owner> <index>")
		}
		return c.printCheck(ctx, out, operands[0], operands[1], operands[2])
	case "balance":
		if len(operands) != 1 {
			return fmt.Errorf("usage: fundctl balance <address>")
		}
		return c.printJSON(ctx, out, "/v1/token/balances/"+url.PathEscape(operands[0]))
	case "verify":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return fmt.Errorf("usage: fundctl -db <path> verify")
		}
		return verify(ctx, cfg.DBPath, out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

type client struct {
	base string
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c client) get(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, target)
}

func (c client) printJSON(ctx context.Context, out io.Writer, path string) error {
	var payload json.RawMessage
	if err := c.get(ctx, path, &payload); err != nil {
		return err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, payload, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(out, indented.String())
	return nil
}

type contractStatus struct {
	ID                string `json:"id"`
	Owner             string `json:"owner"`
	Variant           string `json:"variant"`
	Paused            bool   `json:"paused"`
	Status            string `json:"status"`
	FundingGoal       uint64 `json:"funding_goal"`
	Deadline          string `json:"deadline"`
	CurrentCycle      uint64 `json:"current_cycle"`
	TotalShares       uint64 `json:"total_shares"`
	TokensContributed uint64 `json:"tokens_contributed"`
	TokensWithdrawn   uint64 `json:"tokens_withdrawn"`
	TotalStake        uint64 `json:"total_stake"`
}

func (c client) printStatus(ctx context.Context, out io.Writer, contractID string) error {
	var contract contractStatus
	if err := c.get(ctx, "/v1/contracts/"+url.PathEscape(contractID), &contract); err != nil {
		return err
	}
	var balance struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.get(ctx, "/v1/token/balances/"+url.PathEscape(contractID), &balance); err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(out, "contract %s (%s, owner %s)\n", contract.ID, contract.Variant, contract.Owner)
	p.Fprintf(out, "  status:       %s", contract.Status)
	if contract.Paused {
		p.Fprintf(out, " (paused)")
	}
	p.Fprintln(out)
	if contract.Variant == "goal" {
		p.Fprintf(out, "  goal:         %d (deadline %s)\n", contract.FundingGoal, formatDeadline(contract.Deadline))
		p.Fprintf(out, "  stake:        %d\n", contract.TotalStake)
	}
	p.Fprintf(out, "  cycle:        %d\n", contract.CurrentCycle)
	p.Fprintf(out, "  shares:       %d\n", contract.TotalShares)
	p.Fprintf(out, "  contributed:  %d\n", contract.TokensContributed)
	p.Fprintf(out, "  withdrawn:    %d\n", contract.TokensWithdrawn)
	p.Fprintf(out, "  balance:      %d\n", balance.Balance)
	return nil
}

func (c client) printCheck(ctx context.Context, out io.Writer, contractID, owner, index string) error {
	var report struct {
		ContributionRemaining uint64 `json:"contribution_remaining"`
		Shares                uint64 `json:"shares"`
		FeesEarned            uint64 `json:"fees_earned"`
	}
	path := "/v1/contracts/" + url.PathEscape(contractID) +
		"/positions/" + url.PathEscape(owner) + "/" + url.PathEscape(index)
	if err := c.get(ctx, path, &report); err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(out, "position %s/%s on %s\n", owner, index, contractID)
	p.Fprintf(out, "  principal:    %d\n", report.ContributionRemaining)
	p.Fprintf(out, "  shares:       %d\n", report.Shares)
	p.Fprintf(out, "  fees earned:  %d\n", report.FeesEarned)
	return nil
}

func formatDeadline(value string) string {
	if value == "" {
		return "none"
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.UTC().Format("2006-01-02 15:04 MST")
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
