package presets

import (
	"testing"
	"time"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
)

func TestAllEmbeddedPresetsAreValid(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("load presets: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected at least one preset")
	}
	for _, preset := range all {
		if _, err := preset.Params(); err != nil {
			t.Fatalf("preset %q params: %v", preset.Name, err)
		}
	}
}

func TestGetBuildsUsableParams(t *testing.T) {
	preset, err := Get("hourly-open")
	if err != nil {
		t.Fatalf("get preset: %v", err)
	}
	if preset.DomainVariant() != domain.VariantOpen {
		t.Fatalf("variant = %v, want open", preset.DomainVariant())
	}
	params, err := preset.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.CycleLength != time.Hour {
		t.Fatalf("cycle length = %v, want 1h", params.CycleLength)
	}

	contract, err := domain.NewContract(domain.NewContractInput{
		Owner:   "owner",
		Variant: preset.DomainVariant(),
		Params:  params,
	}, time.Now, func() (string, error) { return "c1", nil })
	if err != nil {
		t.Fatalf("new contract from preset: %v", err)
	}
	if contract.ID != "c1" {
		t.Fatalf("contract id = %q, want c1", contract.ID)
	}
}

func TestGetUnknownPreset(t *testing.T) {
	if _, err := Get("no-such-preset"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing variant",
			yaml: "presets:\n  - name: x\n    cycle_length: 1h\n    accrual_rate: 1\n    percent_scale: 1\n",
		},
		{
			name: "bad cycle length",
			yaml: "presets:\n  - name: x\n    variant: open\n    cycle_length: soon\n    accrual_rate: 1\n    percent_scale: 1\n",
		},
		{
			name: "zero scale",
			yaml: "presets:\n  - name: x\n    variant: open\n    cycle_length: 1h\n    accrual_rate: 1\n    percent_scale: 0\n",
		},
		{
			name: "duplicate names",
			yaml: "presets:\n  - name: x\n    variant: open\n    cycle_length: 1h\n    accrual_rate: 1\n    percent_scale: 1\n  - name: x\n    variant: open\n    cycle_length: 1h\n    accrual_rate: 1\n    percent_scale: 1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}
