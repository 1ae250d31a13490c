package fundctl

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/louisbranch/cyclefund/internal/funding/storage/sqlite"
)

// verify opens the funding database directly and checks every contract for
// conservation violations. Two invariants hold in every contract state:
// principal never leaves unrecorded (live + withdrawn covers contributed),
// and the contract's token balance plus recorded principal outflows covers
// credited principal plus remaining stake.
func verify(ctx context.Context, dbPath string, out io.Writer) error {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open funding store: %w", err)
	}
	defer store.Close()

	summaries, err := store.ListContracts(ctx)
	if err != nil {
		return fmt.Errorf("list contracts: %w", err)
	}

	p := message.NewPrinter(language.English)
	violations := 0
	for _, summary := range summaries {
		contract, err := store.GetContract(ctx, summary.ID)
		if err != nil {
			return fmt.Errorf("load contract %s: %w", summary.ID, err)
		}
		balance, err := store.BalanceOf(ctx, contract.ID)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", contract.ID, err)
		}

		principal := contract.LivePrincipal()
		p.Fprintf(out, "%s: principal %d, stake %d, balance %d, contributed %d, withdrawn %d\n",
			contract.ID, principal, contract.TotalStake, balance,
			contract.TokensContributed, contract.TokensWithdrawn)

		if contract.TokensWithdrawn > contract.TokensContributed {
			violations++
			p.Fprintf(out, "  VIOLATION: withdrawn %d exceeds contributed %d\n",
				contract.TokensWithdrawn, contract.TokensContributed)
		}
		if principal+contract.TokensWithdrawn < contract.TokensContributed {
			violations++
			p.Fprintf(out, "  VIOLATION: live principal %d + withdrawn %d does not cover contributed %d\n",
				principal, contract.TokensWithdrawn, contract.TokensContributed)
		}
		if balance+contract.TokensWithdrawn < contract.TokensContributed+contract.TotalStake {
			violations++
			p.Fprintf(out, "  VIOLATION: balance %d + withdrawn %d does not cover contributed %d + stake %d\n",
				balance, contract.TokensWithdrawn, contract.TokensContributed, contract.TotalStake)
		}
	}

	p.Fprintf(out, "checked %d contracts, %d violations\n", len(summaries), violations)
	if violations > 0 {
		return fmt.Errorf("%d conservation violations", violations)
	}
	return nil
}
