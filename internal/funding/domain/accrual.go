package domain

import "math/big"

// Share math is integer-only. A position of `tokens` held for `elapsed`
// cycles accrues floor(accrualRate * elapsed * tokens / percentScale)
// shares. The triple product can exceed 64 bits, so intermediates go
// through math/big; results are floored back into uint64.

// accruedShares returns the shares a token amount earns over elapsed cycles.
func accruedShares(rate, elapsed, tokens, scale uint64) uint64 {
	if rate == 0 || elapsed == 0 || tokens == 0 || scale == 0 {
		return 0
	}
	n := new(big.Int).SetUint64(rate)
	n.Mul(n, new(big.Int).SetUint64(elapsed))
	n.Mul(n, new(big.Int).SetUint64(tokens))
	n.Quo(n, new(big.Int).SetUint64(scale))
	return clampUint64(n)
}

// proRata returns floor(pool * part / total): the slice of a fee pool owned
// by `part` shares out of `total`.
func proRata(pool, part, total uint64) uint64 {
	if pool == 0 || part == 0 || total == 0 {
		return 0
	}
	n := new(big.Int).SetUint64(pool)
	n.Mul(n, new(big.Int).SetUint64(part))
	n.Quo(n, new(big.Int).SetUint64(total))
	return clampUint64(n)
}

func clampUint64(n *big.Int) uint64 {
	if !n.IsUint64() {
		// Saturate rather than wrap; callers operate on token amounts
		// that stay far below this in practice.
		return ^uint64(0)
	}
	return n.Uint64()
}
