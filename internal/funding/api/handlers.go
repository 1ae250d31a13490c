package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/cyclefund/internal/funding/domain"
	"github.com/louisbranch/cyclefund/internal/funding/grant"
	"github.com/louisbranch/cyclefund/internal/funding/presets"
	"github.com/louisbranch/cyclefund/internal/funding/service"
	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
)

// grantHeader carries the operator grant token on privileged requests.
const grantHeader = "X-Operator-Grant"

// Handler serves the funding JSON API.
type Handler struct {
	svc           *service.Service
	grants        grant.Config
	grantsEnabled bool
}

// Option configures optional Handler behavior.
type Option func(*Handler)

// WithOperatorGrants requires a valid operator grant on privileged routes.
func WithOperatorGrants(cfg grant.Config) Option {
	return func(h *Handler) {
		h.grants = cfg
		h.grantsEnabled = true
	}
}

// NewHandler creates an API handler for the funding service.
func NewHandler(svc *service.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code.HTTPStatus(), errorResponse{
			Error:   string(appErr.Code),
			Message: appErr.Message,
		})
		return
	}
	log.Printf("funding api: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   string(apperrors.CodeUnknown),
		Message: "internal error",
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   string(apperrors.CodeContractInvalidParams),
		Message: message,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

// parseIndex converts a position path segment. "any" selects the caller's
// sole position.
func parseIndex(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "any" {
		return domain.AnyPosition, nil
	}
	index, err := strconv.Atoi(value)
	if err != nil || index < 0 {
		return 0, errors.New("position index must be a non-negative integer or \"any\"")
	}
	return index, nil
}

func variantString(variant domain.Variant) string {
	switch variant {
	case domain.VariantOpen:
		return "open"
	case domain.VariantGoal:
		return "goal"
	}
	return "unspecified"
}

func parseVariant(value string) domain.Variant {
	switch strings.TrimSpace(value) {
	case "open":
		return domain.VariantOpen
	case "goal":
		return domain.VariantGoal
	}
	return domain.VariantUnspecified
}

// operatorFor resolves the caller identity for a privileged operation.
// With grants enabled the identity comes from a verified grant token;
// otherwise the request's caller field is trusted as-is.
func (h *Handler) operatorFor(r *http.Request, contractID, operation, fallbackCaller string) (string, error) {
	if !h.grantsEnabled {
		return strings.TrimSpace(fallbackCaller), nil
	}
	claims, err := grant.Validate(r.Header.Get(grantHeader), grant.Expectation{
		ContractID: contractID,
		Operation:  operation,
	}, h.grants)
	if err != nil {
		return "", err
	}
	return claims.Operator, nil
}

type createContractRequest struct {
	Owner              string `json:"owner"`
	Preset             string `json:"preset,omitempty"`
	Variant            string `json:"variant"`
	CycleLengthMS      int64  `json:"cycle_length_ms"`
	AccrualRate        uint64 `json:"accrual_rate"`
	ContributorFeeRate uint64 `json:"contributor_fee_rate"`
	PercentScale       uint64 `json:"percent_scale"`
	FundingGoal        uint64 `json:"funding_goal,omitempty"`
	Deadline           string `json:"deadline,omitempty"`
}

type contractResponse struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	Variant            string          `json:"variant"`
	Paused             bool            `json:"paused"`
	Status             string          `json:"status"`
	CycleLengthMS      int64           `json:"cycle_length_ms"`
	AccrualRate        uint64          `json:"accrual_rate"`
	ContributorFeeRate uint64          `json:"contributor_fee_rate"`
	PercentScale       uint64          `json:"percent_scale"`
	FundingGoal        uint64          `json:"funding_goal,omitempty"`
	Deadline           string          `json:"deadline,omitempty"`
	StartTime          string          `json:"start_time"`
	CurrentCycle       uint64          `json:"current_cycle"`
	TotalShares        uint64          `json:"total_shares"`
	TokensContributed  uint64          `json:"tokens_contributed"`
	TokensWithdrawn    uint64          `json:"tokens_withdrawn"`
	TotalStake         uint64          `json:"total_stake,omitempty"`
	Cycles             []cycleResponse `json:"cycles"`
}

type cycleResponse struct {
	Number           uint64 `json:"number"`
	Shares           uint64 `json:"shares"`
	Fees             uint64 `json:"fees"`
	HasContributions bool   `json:"has_contributions"`
}

func (h *Handler) contractResponse(contract *domain.Contract) contractResponse {
	now := h.svc.Now()
	resp := contractResponse{
		ID:                 contract.ID,
		Owner:              contract.Owner,
		Variant:            variantString(contract.Variant),
		Paused:             contract.Paused,
		Status:             contract.Status(now).String(),
		CycleLengthMS:      contract.Params.CycleLength.Milliseconds(),
		AccrualRate:        contract.Params.AccrualRate,
		ContributorFeeRate: contract.Params.ContributorFeeRate,
		PercentScale:       contract.Params.PercentScale,
		FundingGoal:        contract.Params.FundingGoal,
		StartTime:          contract.StartTime.Format(time.RFC3339),
		CurrentCycle:       contract.CurrentCycleNumber(now),
		TotalShares:        contract.TotalShares(now),
		TokensContributed:  contract.TokensContributed,
		TokensWithdrawn:    contract.TokensWithdrawn,
		TotalStake:         contract.TotalStake,
		Cycles:             make([]cycleResponse, 0, len(contract.Cycles)),
	}
	if !contract.Params.Deadline.IsZero() {
		resp.Deadline = contract.Params.Deadline.Format(time.RFC3339)
	}
	for _, cycle := range contract.Cycles {
		resp.Cycles = append(resp.Cycles, cycleResponse{
			Number:           cycle.Number,
			Shares:           cycle.Shares,
			Fees:             cycle.Fees,
			HasContributions: cycle.HasContributions,
		})
	}
	return resp
}

func (h *Handler) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if !decodeBody(w, r, &req) {
		return
	}

	variant := parseVariant(req.Variant)
	params := domain.Params{
		CycleLength:        time.Duration(req.CycleLengthMS) * time.Millisecond,
		AccrualRate:        req.AccrualRate,
		ContributorFeeRate: req.ContributorFeeRate,
		PercentScale:       req.PercentScale,
		FundingGoal:        req.FundingGoal,
	}
	if req.Preset != "" {
		preset, err := presets.Get(req.Preset)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		presetParams, err := preset.Params()
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		variant = preset.DomainVariant()
		presetParams.FundingGoal = req.FundingGoal
		params = presetParams
	}
	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			writeBadRequest(w, "deadline must be RFC 3339")
			return
		}
		params.Deadline = deadline.UTC()
	}

	contract, err := h.svc.CreateContract(r.Context(), domain.NewContractInput{
		Owner:   req.Owner,
		Variant: variant,
		Params:  params,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.contractResponse(contract))
}

func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	all, err := presets.All()
	if err != nil {
		writeError(w, err)
		return
	}
	type presetResponse struct {
		Name               string `json:"name"`
		Description        string `json:"description"`
		Variant            string `json:"variant"`
		CycleLength        string `json:"cycle_length"`
		AccrualRate        uint64 `json:"accrual_rate"`
		ContributorFeeRate uint64 `json:"contributor_fee_rate"`
		PercentScale       uint64 `json:"percent_scale"`
	}
	resp := struct {
		Presets []presetResponse `json:"presets"`
	}{Presets: make([]presetResponse, 0, len(all))}
	for _, preset := range all {
		resp.Presets = append(resp.Presets, presetResponse{
			Name:               preset.Name,
			Description:        preset.Description,
			Variant:            preset.Variant,
			CycleLength:        preset.CycleLength,
			AccrualRate:        preset.AccrualRate,
			ContributorFeeRate: preset.ContributorFeeRate,
			PercentScale:       preset.PercentScale,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type contractSummaryResponse struct {
	ID                string `json:"id"`
	Owner             string `json:"owner"`
	Variant           string `json:"variant"`
	Paused            bool   `json:"paused"`
	TokensContributed uint64 `json:"tokens_contributed"`
	TokensWithdrawn   uint64 `json:"tokens_withdrawn"`
	TotalStake        uint64 `json:"total_stake,omitempty"`
	StartTime         string `json:"start_time"`
}

func (h *Handler) handleListContracts(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.ListContracts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := struct {
		Contracts []contractSummaryResponse `json:"contracts"`
	}{Contracts: make([]contractSummaryResponse, 0, len(summaries))}
	for _, summary := range summaries {
		resp.Contracts = append(resp.Contracts, contractSummaryResponse{
			ID:                summary.ID,
			Owner:             summary.Owner,
			Variant:           variantString(summary.Variant),
			Paused:            summary.Paused,
			TokensContributed: summary.TokensContributed,
			TokensWithdrawn:   summary.TokensWithdrawn,
			TotalStake:        summary.TotalStake,
			StartTime:         summary.StartTime.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.svc.GetContract(r.Context(), r.PathValue("contractID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.contractResponse(contract))
}

func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contributor string `json:"contributor"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	index, fee, err := h.svc.Contribute(r.Context(), r.PathValue("contractID"), req.Contributor, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Index int    `json:"index"`
		Fee   uint64 `json:"fee"`
	}{Index: index, Fee: fee})
}

func (h *Handler) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Funder string `json:"funder"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.Distribute(r.Context(), r.PathValue("contractID"), req.Funder, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type positionSlotResponse struct {
	Index                   int    `json:"index"`
	ContributionRemaining   uint64 `json:"contribution_remaining"`
	StartCycleIndex         int    `json:"start_cycle_index"`
	LastCollectedCycleIndex int    `json:"last_collected_cycle_index"`
	Refunded                bool   `json:"refunded"`
	Live                    bool   `json:"live"`
}

func (h *Handler) handleListPositions(w http.ResponseWriter, r *http.Request) {
	contract, err := h.svc.GetContract(r.Context(), r.PathValue("contractID"))
	if err != nil {
		writeError(w, err)
		return
	}
	owner := r.PathValue("owner")
	length := contract.PositionsLength(owner)
	resp := struct {
		Positions []positionSlotResponse `json:"positions"`
	}{Positions: make([]positionSlotResponse, 0, length)}
	for index := 0; index < length; index++ {
		slot, err := contract.PositionByIndex(owner, index)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Positions = append(resp.Positions, positionSlotResponse{
			Index:                   index,
			ContributionRemaining:   slot.ContributionRemaining,
			StartCycleIndex:         slot.StartCycleIndex,
			LastCollectedCycleIndex: slot.LastCollectedCycleIndex,
			Refunded:                slot.Refunded,
			Live:                    slot.ContributionRemaining > 0,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCheckPosition(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	report, err := h.svc.CheckPosition(r.Context(), r.PathValue("contractID"), r.PathValue("owner"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ContributionRemaining uint64 `json:"contribution_remaining"`
		Shares                uint64 `json:"shares"`
		FeesEarned            uint64 `json:"fees_earned"`
	}{
		ContributionRemaining: report.ContributionRemaining,
		Shares:                report.Shares,
		FeesEarned:            report.FeesEarned,
	})
}

type payoutResponse struct {
	Payout uint64 `json:"payout"`
}

func (h *Handler) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	payout, err := h.svc.CollectFees(r.Context(), r.PathValue("contractID"), r.PathValue("owner"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{Payout: payout})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	payout, err := h.svc.Withdraw(r.Context(), r.PathValue("contractID"), r.PathValue("owner"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{Payout: payout})
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	payout, err := h.svc.Refund(r.Context(), r.PathValue("contractID"), r.PathValue("owner"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payoutResponse{Payout: payout})
}

func (h *Handler) handleSplit(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req struct {
		NumSplits      int    `json:"num_splits"`
		AmountPerSplit uint64 `json:"amount_per_split"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	indices, err := h.svc.Split(r.Context(), r.PathValue("contractID"), r.PathValue("owner"), index, req.NumSplits, req.AmountPerSplit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Indices []int `json:"indices"`
	}{Indices: indices})
}

func (h *Handler) handleTransferPosition(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req struct {
		To string `json:"to"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	newIndex, err := h.svc.TransferPosition(r.Context(), r.PathValue("contractID"), req.To, r.PathValue("owner"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Index int `json:"index"`
	}{Index: newIndex})
}

func (h *Handler) handleTransferPositions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Indices []int  `json:"indices"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	newIndices, err := h.svc.TransferPositions(r.Context(), r.PathValue("contractID"), req.To, r.PathValue("owner"), req.Indices)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Indices []int `json:"indices"`
	}{Indices: newIndices})
}

func (h *Handler) handleWithdrawFunds(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller string `json:"caller,omitempty"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpWithdrawFunds, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.WithdrawFunds(r.Context(), contractID, caller, req.To, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleExtendGoal(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller   string `json:"caller,omitempty"`
		Goal     uint64 `json:"goal"`
		Deadline string `json:"deadline"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeBadRequest(w, "deadline must be RFC 3339")
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpExtendGoal, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ExtendGoal(r.Context(), contractID, caller, req.Goal, deadline.UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller string `json:"caller,omitempty"`
		Paused bool   `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpPause, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SetPaused(r.Context(), contractID, caller, req.Paused); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleAddStake(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller string `json:"caller,omitempty"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpManageStake, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AddStake(r.Context(), contractID, caller, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct{}{})
}

func (h *Handler) handleRemoveStake(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller string `json:"caller,omitempty"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpManageStake, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.RemoveStake(r.Context(), contractID, caller, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleTransferStake(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractID")
	var req struct {
		Caller string `json:"caller,omitempty"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, err := h.operatorFor(r, contractID, grant.OpManageStake, req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.TransferStake(r.Context(), contractID, caller, req.To, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.Ledger().BalanceOf(r.Context(), r.PathValue("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Balance uint64 `json:"balance"`
	}{Balance: balance})
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeBadRequest(w, "recipient address is required")
		return
	}
	if err := h.svc.Ledger().Mint(r.Context(), req.To, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
		Amount  uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Owner) == "" || strings.TrimSpace(req.Spender) == "" {
		writeBadRequest(w, "owner and spender are required")
		return
	}
	if err := h.svc.Ledger().Approve(r.Context(), req.Owner, req.Spender, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Amount uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		writeBadRequest(w, "from and to are required")
		return
	}
	if err := h.svc.Ledger().Transfer(r.Context(), req.From, req.To, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
