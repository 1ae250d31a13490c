// Package api exposes the funding service over a JSON HTTP surface.
package api

import "net/http"

// RegisterRoutes wires funding routes into the provided mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	if mux == nil || h == nil {
		return
	}

	mux.HandleFunc(http.MethodGet+" /v1/presets", h.handleListPresets)

	mux.HandleFunc(http.MethodPost+" /v1/contracts", h.handleCreateContract)
	mux.HandleFunc(http.MethodGet+" /v1/contracts", h.handleListContracts)
	mux.HandleFunc(http.MethodGet+" /v1/contracts/{contractID}", h.handleGetContract)

	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/contributions", h.handleContribute)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/distributions", h.handleDistribute)

	mux.HandleFunc(http.MethodGet+" /v1/contracts/{contractID}/positions/{owner}", h.handleListPositions)
	mux.HandleFunc(http.MethodGet+" /v1/contracts/{contractID}/positions/{owner}/{index}", h.handleCheckPosition)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/{index}/collect", h.handleCollectFees)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/{index}/withdraw", h.handleWithdraw)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/{index}/refund", h.handleRefund)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/{index}/split", h.handleSplit)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/{index}/transfer", h.handleTransferPosition)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/positions/{owner}/transfers", h.handleTransferPositions)

	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/funds/withdrawals", h.handleWithdrawFunds)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/goal", h.handleExtendGoal)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/pause", h.handleSetPaused)

	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/stakes", h.handleAddStake)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/stakes/removals", h.handleRemoveStake)
	mux.HandleFunc(http.MethodPost+" /v1/contracts/{contractID}/stakes/transfers", h.handleTransferStake)

	mux.HandleFunc(http.MethodGet+" /v1/token/balances/{address}", h.handleBalance)
	mux.HandleFunc(http.MethodPost+" /v1/token/mint", h.handleMint)
	mux.HandleFunc(http.MethodPost+" /v1/token/approvals", h.handleApprove)
	mux.HandleFunc(http.MethodPost+" /v1/token/transfers", h.handleTokenTransfer)
}
