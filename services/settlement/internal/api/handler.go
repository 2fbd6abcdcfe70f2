package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/accordsai/transferlane/pkg/authn"
	"github.com/accordsai/transferlane/pkg/capability"
	"github.com/accordsai/transferlane/pkg/domain"
	"github.com/accordsai/transferlane/pkg/httpx"
	"github.com/accordsai/transferlane/pkg/settlement"
	"github.com/accordsai/transferlane/pkg/signature"
	"github.com/accordsai/transferlane/pkg/transferstate"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
)

// Executor is the settlement surface the handler serves.
type Executor interface {
	Perform(ctx context.Context, caller common.Address, addresses []common.Address, uints []*big.Int, sig signature.VRS, strict bool) (settlement.Receipt, error)
	Cancel(ctx context.Context, caller common.Address, addresses []common.Address, uints []*big.Int) (settlement.Receipt, error)
	Claim(addresses []common.Address, uints []*big.Int) (domain.Claim, error)
	Status(ctx context.Context, claim domain.Claim) (transferstate.Entry, error)
	IsValidSignature(signer common.Address, claim domain.Claim, sig signature.VRS) bool
	SupportsInterface(id capability.InterfaceID) bool
	Instance() common.Address
	Token() common.Address
	TokenTransferProxy() common.Address
	AssetTransferProxy() common.Address
}

type Handler struct {
	exec   Executor
	auth   authn.Verifier
	logger *slog.Logger
}

func NewHandler(exec Executor, auth authn.Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exec: exec, auth: auth, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithRequestID)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/settlement/v1", func(api chi.Router) {
		api.Group(func(authed chi.Router) {
			authed.Use(h.auth.Middleware)
			authed.Post("/transfers/perform", h.perform)
			authed.Post("/transfers/cancel", h.cancel)
		})
		api.Post("/claims", h.claim)
		api.Get("/claims/{claim}", h.status)
		api.Post("/signatures/verify", h.verify)
		api.Get("/config", h.config)
		api.Get("/capabilities/{interface_id}", h.capability)
	})
	return r
}

type orderRequest struct {
	Addresses []string `json:"addresses"`
	Uints     []string `json:"uints"`
}

type performRequest struct {
	Addresses              []string `json:"addresses"`
	Uints                  []string `json:"uints"`
	Signature              string   `json:"signature,omitempty"`
	V                      *uint8   `json:"v,omitempty"`
	R                      string   `json:"r,omitempty"`
	S                      string   `json:"s,omitempty"`
	ThrowIfNotTransferable bool     `json:"throw_if_not_transferable"`
}

type verifyRequest struct {
	Signer    string `json:"signer"`
	Claim     string `json:"claim"`
	Signature string `json:"signature"`
}

type receiptResponse struct {
	RequestID string        `json:"request_id"`
	Claim     domain.Claim  `json:"claim"`
	Status    domain.Status `json:"status"`
	From      string        `json:"from"`
	To        string        `json:"to"`
}

func (h *Handler) perform(w http.ResponseWriter, r *http.Request) {
	var req performRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		writeInvalid(w, "invalid request body", err)
		return
	}
	addresses, uints, err := domain.Encoded{Addresses: req.Addresses, Uints: req.Uints}.Decode()
	if err != nil {
		writeInvalid(w, "invalid order encoding", err)
		return
	}
	sig, err := req.vrs()
	if err != nil {
		writeInvalid(w, "invalid signature encoding", err)
		return
	}
	caller, _ := authn.CallerFrom(r.Context())
	rec, err := h.exec.Perform(r.Context(), caller, addresses, uints, sig, req.ThrowIfNotTransferable)
	if err != nil {
		h.writeSettlementError(w, r, err)
		return
	}
	h.writeReceipt(w, r, rec)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		writeInvalid(w, "invalid request body", err)
		return
	}
	addresses, uints, err := domain.Encoded{Addresses: req.Addresses, Uints: req.Uints}.Decode()
	if err != nil {
		writeInvalid(w, "invalid order encoding", err)
		return
	}
	caller, _ := authn.CallerFrom(r.Context())
	rec, err := h.exec.Cancel(r.Context(), caller, addresses, uints)
	if err != nil {
		h.writeSettlementError(w, r, err)
		return
	}
	h.writeReceipt(w, r, rec)
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		writeInvalid(w, "invalid request body", err)
		return
	}
	addresses, uints, err := domain.Encoded{Addresses: req.Addresses, Uints: req.Uints}.Decode()
	if err != nil {
		writeInvalid(w, "invalid order encoding", err)
		return
	}
	claim, err := h.exec.Claim(addresses, uints)
	if err != nil {
		h.writeSettlementError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.RequestID(r.Context()),
		"claim":      claim,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	claim, err := domain.ParseClaim(chi.URLParam(r, "claim"))
	if err != nil {
		writeInvalid(w, "invalid claim", err)
		return
	}
	entry, err := h.exec.Status(r.Context(), claim)
	if err != nil {
		h.writeSettlementError(w, r, err)
		return
	}
	resp := map[string]any{
		"request_id": httpx.RequestID(r.Context()),
		"claim":      claim,
		"status":     entry.Status,
	}
	if !entry.UpdatedAt.IsZero() {
		resp["updated_at"] = entry.UpdatedAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		writeInvalid(w, "invalid request body", err)
		return
	}
	signer, err := domain.ParseAddress(req.Signer)
	if err != nil {
		writeInvalid(w, "invalid signer", err)
		return
	}
	claim, err := domain.ParseClaim(req.Claim)
	if err != nil {
		writeInvalid(w, "invalid claim", err)
		return
	}
	sig, err := signature.ParseHex(req.Signature)
	if err != nil {
		writeInvalid(w, "invalid signature encoding", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.RequestID(r.Context()),
		"valid":      h.exec.IsValidSignature(signer, claim, sig),
	})
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":           httpx.RequestID(r.Context()),
		"instance":             h.exec.Instance().Hex(),
		"token":                h.exec.Token().Hex(),
		"token_transfer_proxy": h.exec.TokenTransferProxy().Hex(),
		"asset_transfer_proxy": h.exec.AssetTransferProxy().Hex(),
		"interfaces":           []string{capability.ERC165.Hex(), capability.Settlement.Hex()},
	})
}

func (h *Handler) capability(w http.ResponseWriter, r *http.Request) {
	id, ok := capability.ParseInterfaceID(chi.URLParam(r, "interface_id"))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, string(settlement.CodeInvalidInput), "interface id must be 4 bytes of 0x-prefixed hex", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":   httpx.RequestID(r.Context()),
		"interface_id": id.Hex(),
		"supported":    h.exec.SupportsInterface(id),
	})
}

func (h *Handler) writeReceipt(w http.ResponseWriter, r *http.Request, rec settlement.Receipt) {
	httpx.WriteJSON(w, http.StatusOK, receiptResponse{
		RequestID: httpx.RequestID(r.Context()),
		Claim:     rec.Claim,
		Status:    rec.Status,
		From:      rec.From.Hex(),
		To:        rec.To.Hex(),
	})
}

func (h *Handler) writeSettlementError(w http.ResponseWriter, r *http.Request, err error) {
	code := settlement.CodeOf(err)
	if code == "" {
		h.logger.ErrorContext(r.Context(), "settlement request failed", "request_id", httpx.RequestID(r.Context()), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	var details any
	if code.Kind() == settlement.KindInternal {
		h.logger.ErrorContext(r.Context(), "settlement request failed", "request_id", httpx.RequestID(r.Context()), "error", err)
	} else {
		details = map[string]any{"kind": string(code.Kind())}
	}
	httpx.WriteError(w, code.HTTPStatus(), string(code), err.Error(), details)
}

func writeInvalid(w http.ResponseWriter, msg string, err error) {
	httpx.WriteError(w, http.StatusBadRequest, string(settlement.CodeInvalidInput), msg+": "+err.Error(), nil)
}

// vrs accepts either a 65 byte r||s||v hex signature or separate v, r, s.
func (req performRequest) vrs() (signature.VRS, error) {
	if strings.TrimSpace(req.Signature) != "" {
		return signature.ParseHex(req.Signature)
	}
	if req.V == nil {
		return signature.VRS{}, errors.New("signature or v, r, s is required")
	}
	sig := signature.VRS{V: *req.V}
	for _, part := range []struct {
		name string
		raw  string
		dst  *[32]byte
	}{{"r", req.R, &sig.R}, {"s", req.S, &sig.S}} {
		b, err := hexutil.Decode(strings.TrimSpace(part.raw))
		if err != nil || len(b) != 32 {
			return signature.VRS{}, errors.New(part.name + " must be 32 bytes of 0x-prefixed hex")
		}
		copy(part.dst[:], b)
	}
	return sig, nil
}
