package ledgerd

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"surveyledger/core/genesis"
	"surveyledger/core/types"
	"surveyledger/native/access"
	"surveyledger/native/proofs"
	"surveyledger/native/survey"
	"surveyledger/services/indexer"
)

// TxRequest is the wire form of a signed transaction. Data is the hex
// RLP payload and Signature the hex [R || S || V] form.
type TxRequest struct {
	ChainID   uint64 `json:"chainId"`
	Type      string `json:"type"`
	Nonce     uint64 `json:"nonce"`
	Value     string `json:"value,omitempty"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// Transaction decodes the request into a ledger transaction.
func (req TxRequest) Transaction() (*types.Transaction, error) {
	txType, ok := types.ParseTxType(strings.TrimSpace(req.Type))
	if !ok {
		return nil, fmt.Errorf("unknown transaction type %q", req.Type)
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	tx := &types.Transaction{ChainID: req.ChainID, Type: txType, Nonce: req.Nonce, Value: value}
	if strings.TrimSpace(req.Data) != "" {
		if tx.Data, err = hexutil.Decode(req.Data); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if err := tx.SetSignature(sig); err != nil {
		return nil, err
	}
	return tx, nil
}

// NewTxRequest renders a signed transaction in wire form.
func NewTxRequest(tx *types.Transaction) (TxRequest, error) {
	sig, err := tx.Signature()
	if err != nil {
		return TxRequest{}, err
	}
	return TxRequest{
		ChainID:   tx.ChainID,
		Type:      tx.Type.String(),
		Nonce:     tx.Nonce,
		Value:     amountString(tx.Value),
		Data:      hexutil.Encode(tx.Data),
		Signature: hexutil.Encode(sig),
	}, nil
}

// EventView is the wire form of a ledger event.
type EventView struct {
	Sequence   uint64            `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// ReceiptView is the wire form of a transaction receipt.
type ReceiptView struct {
	TxHash   string      `json:"txHash"`
	Sender   string      `json:"sender"`
	Type     string      `json:"type"`
	Nonce    uint64      `json:"nonce"`
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
	Code     string      `json:"code,omitempty"`
	Class    string      `json:"class,omitempty"`
	Sequence uint64      `json:"sequence"`
	Events   []EventView `json:"events"`
}

func newReceiptView(r *types.Receipt) ReceiptView {
	view := ReceiptView{
		TxHash:   hexutil.Encode(r.TxHash[:]),
		Sender:   hexutil.Encode(r.Sender[:]),
		Type:     r.Type.String(),
		Nonce:    r.Nonce,
		Success:  r.Success,
		Error:    r.Error,
		Code:     r.Code,
		Class:    r.Class,
		Sequence: r.Sequence,
		Events:   make([]EventView, 0, len(r.Events)),
	}
	for _, evt := range r.Events {
		view.Events = append(view.Events, EventView{Type: evt.Type, Attributes: evt.Attributes})
	}
	return view
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req TxRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid", "invalid payload")
		return
	}
	tx, err := req.Transaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TX", "invalid", err.Error())
		return
	}
	receipt, err := s.backend.Apply(tx)
	if receipt == nil {
		if err == nil {
			err = errors.New("ledger returned no receipt")
		}
		s.writeLedgerError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = StatusForError(err)
	}
	writeJSON(w, status, newReceiptView(receipt))
}

// SurveyView is the wire form of a survey record.
type SurveyView struct {
	ID                   string `json:"id"`
	Creator              string `json:"creator"`
	Kind                 string `json:"kind"`
	Status               string `json:"status"`
	RewardAmount         string `json:"rewardAmount,omitempty"`
	Collection           string `json:"collection,omitempty"`
	ParticipantsLimit    uint64 `json:"participantsLimit"`
	ParticipantsRewarded uint64 `json:"participantsRewarded"`
	ContentHash          string `json:"contentHash"`
	RoutingFee           string `json:"routingFee"`
	CreatedAt            uint64 `json:"createdAt"`
	CanceledAt           uint64 `json:"canceledAt,omitempty"`
}

func newSurveyView(rec *survey.Survey) SurveyView {
	view := SurveyView{
		ID:                   rec.ID,
		Creator:              hexutil.Encode(rec.Creator[:]),
		Kind:                 rec.Kind.String(),
		Status:               rec.Status().String(),
		ParticipantsLimit:    rec.ParticipantsLimit,
		ParticipantsRewarded: rec.ParticipantsRewarded,
		ContentHash:          hexutil.Encode(rec.ContentHash[:]),
		RoutingFee:           amountString(rec.RoutingFee),
		CreatedAt:            rec.CreatedAt,
		CanceledAt:           rec.CanceledAt,
	}
	if rec.Kind == survey.KindBadge {
		view.Collection = hexutil.Encode(rec.Collection[:])
	} else {
		view.RewardAmount = amountString(rec.RewardAmount)
	}
	return view
}

func (s *Server) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.backend.Survey(chi.URLParam(r, "id"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if !ok {
		s.writeLedgerError(w, r, survey.ErrSurveyNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSurveyView(rec))
}

func (s *Server) handleIsRewarded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	participant, err := genesis.ParseAccount(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "invalid", err.Error())
		return
	}
	rewarded, err := s.backend.IsRewarded(id, participant)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"surveyId":    id,
		"participant": hexutil.Encode(participant[:]),
		"rewarded":    rewarded,
	})
}

func (s *Server) handleSurveyEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "INDEXER_DISABLED", "", "indexer not configured")
		return
	}
	id := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "invalid", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	summary, err := s.index.Summary(r.Context(), id)
	if errors.Is(err, indexer.ErrNotFound) {
		s.writeLedgerError(w, r, survey.ErrSurveyNotFound)
		return
	}
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	records, err := s.index.EventsBySurvey(r.Context(), id, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]EventView, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Decode()
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		out = append(out, EventView{Sequence: rec.Sequence, Type: rec.Type, Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary, "events": out})
}

// ProofRequest carries the fields a proof builder binds. Only the fields of
// the requested kind are read.
type ProofRequest struct {
	Token            string   `json:"token"`
	Expiry           uint64   `json:"expiry"`
	Owner            string   `json:"owner,omitempty"`
	SurveyID         string   `json:"surveyId,omitempty"`
	ParticipantLimit uint64   `json:"participantLimit,omitempty"`
	RewardAmount     string   `json:"rewardAmount,omitempty"`
	BadgeName        string   `json:"badgeName,omitempty"`
	BadgeSymbol      string   `json:"badgeSymbol,omitempty"`
	BadgeBaseURI     string   `json:"badgeBaseUri,omitempty"`
	Badge            bool     `json:"badge,omitempty"`
	ContentHash      string   `json:"contentHash,omitempty"`
	RoutingFee       string   `json:"routingFee,omitempty"`
	SurveyIDs        []string `json:"surveyIds,omitempty"`
	Participants     []string `json:"participants,omitempty"`
}

func (req ProofRequest) proof() (proofs.Proof, error) {
	token, err := parseBytes32(req.Token)
	if err != nil {
		return proofs.Proof{}, fmt.Errorf("token: %w", err)
	}
	return proofs.Proof{Token: token, Expiry: req.Expiry}, nil
}

func (req ProofRequest) createParams() (survey.CreateParams, error) {
	var params survey.CreateParams
	owner, err := genesis.ParseAccount(req.Owner)
	if err != nil {
		return params, fmt.Errorf("owner: %w", err)
	}
	contentHash, err := parseBytes32(req.ContentHash)
	if err != nil {
		return params, fmt.Errorf("contentHash: %w", err)
	}
	fee, err := parseAmount(req.RoutingFee)
	if err != nil {
		return params, fmt.Errorf("routingFee: %w", err)
	}
	params = survey.CreateParams{
		Owner:            owner,
		SurveyID:         req.SurveyID,
		ParticipantLimit: req.ParticipantLimit,
		ContentHash:      contentHash,
		RoutingFee:       fee,
	}
	if req.Badge {
		params.Badge = &proofs.BadgeMetadata{Name: req.BadgeName, Symbol: req.BadgeSymbol, BaseURI: req.BadgeBaseURI}
		return params, nil
	}
	if params.RewardAmount, err = parseAmount(req.RewardAmount); err != nil {
		return params, fmt.Errorf("rewardAmount: %w", err)
	}
	return params, nil
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid", "invalid payload")
		return
	}
	proof, err := req.proof()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PROOF", "invalid", err.Error())
		return
	}
	var hash [32]byte
	switch kind := chi.URLParam(r, "kind"); kind {
	case "create":
		params, perr := req.createParams()
		if perr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PROOF", "invalid", perr.Error())
			return
		}
		hash, err = s.backend.CreateProof(proof, params)
	case "cancel":
		hash, err = s.backend.CancelProof(proof, req.SurveyID)
	case "reward":
		participants := make([][20]byte, 0, len(req.Participants))
		for _, raw := range req.Participants {
			addr, perr := genesis.ParseAccount(raw)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "invalid", perr.Error())
				return
			}
			participants = append(participants, addr)
		}
		hash, err = s.backend.RewardProof(proof, req.SurveyIDs, participants)
	default:
		writeError(w, http.StatusNotFound, "UNKNOWN_PROOF_KIND", "invalid", "unknown proof kind "+kind)
		return
	}
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":     hexutil.Encode(hash[:]),
		"consumed": hash == ([32]byte{}),
		"chainId":  s.backend.ChainID(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := genesis.ParseAccount(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "invalid", err.Error())
		return
	}
	account, err := s.backend.Account(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	isManager, err := s.backend.IsManager(addr)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": hexutil.Encode(addr[:]),
		"balance": amountString(account.Balance),
		"nonce":   account.Nonce,
		"manager": isManager,
	})
}

func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	owner, err := s.backend.Owner()
	if err != nil && !errors.Is(err, access.ErrNotInitialized) {
		s.writeLedgerError(w, r, err)
		return
	}
	resp := map[string]interface{}{"owner": hexutil.Encode(owner[:]), "chainId": s.backend.ChainID()}
	routing, ok, err := s.backend.Routing()
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if ok {
		resp["routing"] = map[string]string{
			"address": hexutil.Encode(routing.Address[:]),
			"owner":   hexutil.Encode(routing.Owner[:]),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SINCE", "invalid", "since must be an unsigned integer")
			return
		}
		since = parsed
	}
	records := s.backend.Events(since)
	out := make([]EventView, 0, len(records))
	for _, rec := range records {
		out = append(out, EventView{Sequence: rec.Sequence, Type: rec.Event.Type, Attributes: rec.Event.Attributes})
	}
	s.logger.Debug("ledgerd.events", slog.Uint64("since", since), slog.Int("count", len(out)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func parseBytes32(raw string) ([32]byte, error) {
	var out [32]byte
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return out, err
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
