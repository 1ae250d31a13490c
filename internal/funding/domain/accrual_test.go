package domain

import "testing"

func TestAccruedShares(t *testing.T) {
	tests := []struct {
		name    string
		rate    uint64
		elapsed uint64
		tokens  uint64
		scale   uint64
		want    uint64
	}{
		{name: "zero rate", rate: 0, elapsed: 5, tokens: 100, scale: 1000, want: 0},
		{name: "zero elapsed", rate: 10, elapsed: 0, tokens: 100, scale: 1000, want: 0},
		{name: "zero tokens", rate: 10, elapsed: 5, tokens: 0, scale: 1000, want: 0},
		{name: "one share per token cycle", rate: 1_000_000, elapsed: 3, tokens: 100, scale: 1_000_000, want: 300},
		{name: "fractional rate floors", rate: 1, elapsed: 1, tokens: 999, scale: 1000, want: 0},
		{name: "intermediate exceeds 64 bits", rate: 1_000_000, elapsed: 1_000_000, tokens: 10_000_000_000_000, scale: 1_000_000, want: 10_000_000_000_000_000_000},
		{name: "result saturates", rate: 1_000_000, elapsed: 1_000_000, tokens: 10_000_000_000_000, scale: 1, want: ^uint64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := accruedShares(tt.rate, tt.elapsed, tt.tokens, tt.scale)
			if got != tt.want {
				t.Fatalf("accruedShares() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestProRata(t *testing.T) {
	tests := []struct {
		name  string
		pool  uint64
		part  uint64
		total uint64
		want  uint64
	}{
		{name: "zero pool", pool: 0, part: 1, total: 2, want: 0},
		{name: "zero total", pool: 10, part: 1, total: 0, want: 0},
		{name: "full share", pool: 1000, part: 50, total: 50, want: 1000},
		{name: "half share", pool: 1000, part: 25, total: 50, want: 500},
		{name: "floors toward zero", pool: 10, part: 1, total: 3, want: 3},
		{name: "intermediate exceeds 64 bits", pool: 10_000_000_000_000, part: 9_000_000_000_000, total: 10_000_000_000_000, want: 9_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := proRata(tt.pool, tt.part, tt.total)
			if got != tt.want {
				t.Fatalf("proRata() = %d, want %d", got, tt.want)
			}
		})
	}
}
