package core

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"surveyledger/core/events"
	"surveyledger/core/genesis"
	"surveyledger/core/state"
	"surveyledger/core/types"
	"surveyledger/native/access"
	"surveyledger/native/bank"
	"surveyledger/native/common"
	"surveyledger/native/proofs"
	"surveyledger/native/survey"
	"surveyledger/observability"
	"surveyledger/observability/logging"
	"surveyledger/storage"
)

const moduleName = "ledger"

var sequenceKey = []byte("ledger/sequence")

var (
	ErrChainIDMismatch = common.NewError(common.ClassInvalid, moduleName, "CHAIN_ID_MISMATCH", "transaction chain id does not match ledger")
	ErrUnknownTxType   = common.NewError(common.ClassInvalid, moduleName, "UNKNOWN_TX_TYPE", "unknown transaction type")
	ErrInvalidPayload  = common.NewError(common.ClassInvalid, moduleName, "INVALID_PAYLOAD", "malformed transaction payload")
	ErrInvalidSender   = common.NewError(common.ClassSignature, moduleName, "INVALID_SENDER", "transaction sender cannot be recovered")
	ErrNonceMismatch   = common.NewError(common.ClassReplay, moduleName, "NONCE_MISMATCH", "unexpected account nonce")
	ErrUnexpectedValue = common.NewError(common.ClassValue, moduleName, "UNEXPECTED_VALUE", "transaction type does not accept value")
)

// Options configures a Ledger.
type Options struct {
	ChainID uint64
	// RewardModels lists the enabled reward model names ("fixed", "badge").
	// Empty enables both.
	RewardModels []string
	Metrics      *observability.LedgerMetrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Ledger applies signed transactions one at a time against journaled state
// and records every published event in an append-only log.
type Ledger struct {
	mu       sync.RWMutex
	chainID  uint64
	db       storage.Database
	manager  *state.Manager
	roles    *access.Engine
	bank     *bank.Engine
	surveys  *survey.Engine
	log      *events.Log
	metrics  *observability.LedgerMetrics
	logger   *slog.Logger
	sequence uint64
}

// New builds a ledger over db.
func New(db storage.Database, opts Options) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database required")
	}
	if opts.ChainID == 0 {
		return nil, fmt.Errorf("ledger: chain id required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)
	log, err := events.LoadLog(db)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	sequence, err := loadSequence(db)
	if err != nil {
		return nil, err
	}

	roles := access.NewEngine()
	roles.SetState(manager)
	roles.SetEmitter(log)

	b := bank.NewEngine()
	surveys := survey.NewEngine(manager, opts.ChainID, roles, b)
	surveys.SetEmitter(log)
	if opts.Now != nil {
		surveys.SetNowFunc(opts.Now)
	}
	if len(opts.RewardModels) > 0 {
		models, err := buildModels(b, opts.RewardModels)
		if err != nil {
			return nil, err
		}
		surveys.SetModels(models...)
	}

	return &Ledger{
		chainID:  opts.ChainID,
		db:       db,
		manager:  manager,
		roles:    roles,
		bank:     b,
		surveys:  surveys,
		log:      log,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("component", moduleName)),
		sequence: sequence,
	}, nil
}

func loadSequence(db storage.Database) (uint64, error) {
	raw, err := db.Get(sequenceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: load sequence: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("ledger: corrupt sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// persist writes the events appended since mark and the receipt sequence in
// one batch.
func (l *Ledger) persist(mark uint64) error {
	batch := storage.NewBatch()
	if err := l.log.Stage(mark, batch); err != nil {
		return err
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, l.sequence)
	batch.Put(sequenceKey, seq)
	return l.db.Write(batch)
}

// lock takes the write lock. A receive hook running under the lock cannot
// wait for it, so the attempt is rejected as reentrant.
func (l *Ledger) lock() error {
	if l.mu.TryLock() {
		return nil
	}
	if l.bank.InHook() {
		return common.ErrReentrant
	}
	l.mu.Lock()
	return nil
}

func (l *Ledger) rlock() error {
	if l.mu.TryRLock() {
		return nil
	}
	if l.bank.InHook() {
		return common.ErrReentrant
	}
	l.mu.RLock()
	return nil
}

func buildModels(b *bank.Engine, names []string) ([]survey.RewardModel, error) {
	models := make([]survey.RewardModel, 0, len(names))
	for _, name := range names {
		kind, ok := survey.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("ledger: unknown reward model %q", name)
		}
		switch kind {
		case survey.KindFixed:
			models = append(models, survey.NewFixedModel(b, survey.VaultAddress))
		case survey.KindBadge:
			models = append(models, survey.NewBadgeModel(survey.VaultAddress))
		}
	}
	return models, nil
}

// InitGenesis seeds an empty ledger from spec. A ledger that already has an
// owner is left untouched and reports false.
func (l *Ledger) InitGenesis(spec *genesis.Spec) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("ledger: genesis spec required")
	}
	if spec.ChainID != l.chainID {
		return false, fmt.Errorf("ledger: genesis chain id %d does not match %d", spec.ChainID, l.chainID)
	}
	if err := l.lock(); err != nil {
		return false, err
	}
	defer l.mu.Unlock()
	if _, err := l.roles.Owner(); err == nil {
		return false, nil
	} else if !errors.Is(err, access.ErrNotInitialized) {
		return false, err
	}
	j := l.manager.Begin()
	defer j.Discard()
	if err := genesis.Apply(spec, j); err != nil {
		return false, err
	}
	if err := j.Commit(); err != nil {
		return false, fmt.Errorf("ledger: commit genesis: %w", err)
	}
	l.logger.Info("ledger.genesis", slog.Uint64("chainId", spec.ChainID), slog.Int("managers", len(spec.Managers)))
	return true, nil
}

// Apply validates tx and executes it. Envelope failures (chain id, sender,
// nonce, type) return an error without a receipt and leave state untouched.
// Once the nonce is consumed a receipt is always returned; execution failures
// are reported both in the receipt and as the error.
func (l *Ledger) Apply(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, ErrInvalidPayload
	}
	if err := l.lock(); err != nil {
		return nil, err
	}
	defer l.mu.Unlock()

	started := time.Now()
	op := tx.Type.String()
	if tx.ChainID != l.chainID {
		l.reject(op, started, ErrChainIDMismatch, nil)
		return nil, ErrChainIDMismatch
	}
	if !tx.Type.Valid() {
		l.reject(op, started, ErrUnknownTxType, nil)
		return nil, ErrUnknownTxType
	}
	sender, err := tx.From()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidSender, err)
		l.reject(op, started, err, nil)
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		l.reject(op, started, ErrInvalidPayload, nil)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	account, err := state.GetAccount(l.manager, sender)
	if err != nil {
		return nil, err
	}
	if account.Nonce != tx.Nonce {
		err = fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, account.Nonce, tx.Nonce)
		l.reject(op, started, err, nil)
		return nil, err
	}
	account.Nonce++
	if err := state.PutAccount(l.manager, sender, account); err != nil {
		return nil, err
	}

	mark := uint64(l.log.Len())
	execErr := l.dispatch(sender, tx)
	l.sequence++
	receipt := &types.Receipt{
		TxHash:   hash,
		Sender:   sender,
		Type:     tx.Type,
		Nonce:    tx.Nonce,
		Success:  execErr == nil,
		Sequence: l.sequence,
	}
	for _, record := range l.log.Since(mark) {
		receipt.Events = append(receipt.Events, record.Event)
		l.metrics.RecordEvent(record.Event.Type)
		if record.Event.Type == survey.EventTypeRewardPaid {
			l.metrics.RecordReward(record.Event.Attributes["kind"])
		}
	}
	if err := l.persist(mark); err != nil {
		l.logger.Error("ledger.persist_failed", slog.Uint64("sequence", l.sequence), slog.String("error", err.Error()))
		if execErr == nil {
			return receipt, fmt.Errorf("ledger: persist events: %w", err)
		}
	}
	if execErr != nil {
		receipt.Error = execErr.Error()
		receipt.Code = common.CodeOf(execErr)
		receipt.Class = string(common.ClassOf(execErr))
		l.reject(op, started, execErr, receipt, maskedSignature(tx), proofTokenAttr(tx))
		return receipt, execErr
	}
	l.metrics.RecordOperation(op, "", time.Since(started))
	l.logger.Info("ledger.applied",
		slog.String("op", op),
		slog.String("sender", hex.EncodeToString(sender[:])),
		slog.String("txhash", hex.EncodeToString(hash[:])),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (l *Ledger) reject(op string, started time.Time, err error, receipt *types.Receipt, extra ...any) {
	class := string(common.ClassOf(err))
	l.metrics.RecordOperation(op, classLabel(class), time.Since(started))
	attrs := []any{
		slog.String("op", op),
		slog.String("class", class),
		slog.String("code", common.CodeOf(err)),
		slog.String("error", err.Error()),
	}
	if receipt != nil {
		attrs = append(attrs,
			slog.String("sender", hex.EncodeToString(receipt.Sender[:])),
			slog.String("txhash", hex.EncodeToString(receipt.TxHash[:])))
	}
	attrs = append(attrs, extra...)
	l.logger.Warn("ledger.rejected", attrs...)
}

func classLabel(class string) string {
	if class == "" {
		return "internal"
	}
	return class
}

func (l *Ledger) dispatch(sender [20]byte, tx *types.Transaction) error {
	if tx.Type != types.TxTypeCreateSurvey && tx.Value != nil && tx.Value.Sign() != 0 {
		return ErrUnexpectedValue
	}
	switch tx.Type {
	case types.TxTypeSetManager:
		var payload types.SetManagerPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return l.roles.SetManager(sender, payload.Manager, payload.Enabled)
	case types.TxTypeSetRouting:
		var payload types.SetRoutingPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return l.roles.SetRouting(sender, payload.Route, payload.RouteOwner)
	case types.TxTypeTransferOwnership:
		var payload types.TransferOwnershipPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return l.roles.TransferOwnership(sender, payload.NewOwner)
	case types.TxTypeAcceptOwnership:
		return l.roles.AcceptOwnership(sender)
	case types.TxTypeCreateSurvey:
		var payload types.CreateSurveyPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		_, err := l.surveys.CreateSurvey(sender, authorization(payload.Proof), CreateParams(payload), tx.Value)
		return err
	case types.TxTypeCancelSurvey:
		var payload types.CancelSurveyPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		_, err := l.surveys.CancelSurvey(sender, authorization(payload.Proof), payload.SurveyID)
		return err
	case types.TxTypePayRewards:
		var payload types.PayRewardsPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return l.surveys.PayRewards(sender, authorization(payload.Proof), payload.SurveyIDs, payload.Participants)
	case types.TxTypeSetBadgeURI:
		var payload types.SetBadgeURIPayload
		if err := decode(tx, &payload); err != nil {
			return err
		}
		return l.surveys.SetBadgeURI(sender, payload.SurveyID, payload.BaseURI)
	default:
		return ErrUnknownTxType
	}
}

func decode(tx *types.Transaction, out interface{}) error {
	if err := tx.DecodePayload(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func authorization(p types.ProofFields) survey.Authorization {
	return survey.Authorization{Signature: p.Signature, Token: p.Token, Expiry: p.Expiry}
}

// CreateParams converts a creation payload into engine parameters.
func CreateParams(p types.CreateSurveyPayload) survey.CreateParams {
	params := survey.CreateParams{
		Owner:            p.Owner,
		SurveyID:         p.SurveyID,
		ParticipantLimit: p.ParticipantLimit,
		RewardAmount:     p.RewardAmount,
		ContentHash:      p.ContentHash,
		RoutingFee:       p.RoutingFee,
	}
	if p.Badge {
		params.RewardAmount = nil
		params.Badge = &proofs.BadgeMetadata{Name: p.BadgeName, Symbol: p.BadgeSymbol, BaseURI: p.BadgeBaseURI}
	}
	return params
}

// ChainID returns the chain identifier transactions and proofs are bound to.
func (l *Ledger) ChainID() uint64 { return l.chainID }

// Bank exposes the bank engine, mainly to install receive hooks. Hooks run
// with the ledger lock held; a hook calling back into the ledger gets
// common.ErrReentrant.
func (l *Ledger) Bank() *bank.Engine { return l.bank }

// Subscribe registers sink for every event published after the call.
func (l *Ledger) Subscribe(sink events.Emitter) { l.log.Subscribe(sink) }

// Events returns the log records with a sequence greater than since.
func (l *Ledger) Events(since uint64) []events.Record { return l.log.Since(since) }

// Survey returns the committed survey record for id.
func (l *Ledger) Survey(id string) (*survey.Survey, bool, error) {
	if err := l.rlock(); err != nil {
		return nil, false, err
	}
	defer l.mu.RUnlock()
	return l.surveys.GetSurvey(id)
}

// IsRewarded reports whether participant has been rewarded for survey id.
func (l *Ledger) IsRewarded(id string, participant [20]byte) (bool, error) {
	if err := l.rlock(); err != nil {
		return false, err
	}
	defer l.mu.RUnlock()
	return l.surveys.IsRewarded(id, participant)
}

// IsManager reports whether addr holds the manager role.
func (l *Ledger) IsManager(addr [20]byte) (bool, error) {
	if err := l.rlock(); err != nil {
		return false, err
	}
	defer l.mu.RUnlock()
	return l.roles.IsManager(addr)
}

// Owner returns the current owner.
func (l *Ledger) Owner() ([20]byte, error) {
	if err := l.rlock(); err != nil {
		return [20]byte{}, err
	}
	defer l.mu.RUnlock()
	return l.roles.Owner()
}

// Routing returns the configured payout routing pair.
func (l *Ledger) Routing() (access.Routing, bool, error) {
	if err := l.rlock(); err != nil {
		return access.Routing{}, false, err
	}
	defer l.mu.RUnlock()
	return l.roles.Routing()
}

// Account returns the balance and nonce of addr.
func (l *Ledger) Account(addr [20]byte) (*types.Account, error) {
	if err := l.rlock(); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()
	return state.GetAccount(l.manager, addr)
}

// Balance returns the native balance of addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if err := l.rlock(); err != nil {
		return nil, err
	}
	defer l.mu.RUnlock()
	return bank.Balance(l.manager, addr)
}

// CreateProof returns the hash a manager signs to authorise a creation.
func (l *Ledger) CreateProof(proof proofs.Proof, params survey.CreateParams) ([32]byte, error) {
	if err := l.rlock(); err != nil {
		return [32]byte{}, err
	}
	defer l.mu.RUnlock()
	return l.surveys.Messages().CreateProof(proof, params.Payload())
}

// CancelProof returns the hash a manager signs to authorise a cancellation.
func (l *Ledger) CancelProof(proof proofs.Proof, surveyID string) ([32]byte, error) {
	if err := l.rlock(); err != nil {
		return [32]byte{}, err
	}
	defer l.mu.RUnlock()
	return l.surveys.Messages().CancelProof(proof, surveyID)
}

// RewardProof returns the hash a manager signs to authorise a reward batch.
func (l *Ledger) RewardProof(proof proofs.Proof, surveyIDs []string, participants [][20]byte) ([32]byte, error) {
	if err := l.rlock(); err != nil {
		return [32]byte{}, err
	}
	defer l.mu.RUnlock()
	return l.surveys.Messages().RewardProof(proof, surveyIDs, participants)
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

func maskedSignature(tx *types.Transaction) slog.Attr {
	sig, err := tx.Signature()
	if err != nil {
		return slog.String("signature", "")
	}
	return logging.MaskField("signature", hex.EncodeToString(sig))
}

// proofTokenAttr fingerprints the proof token of survey transactions.
func proofTokenAttr(tx *types.Transaction) slog.Attr {
	var proof types.ProofFields
	switch tx.Type {
	case types.TxTypeCreateSurvey:
		var payload types.CreateSurveyPayload
		if tx.DecodePayload(&payload) == nil {
			proof = payload.Proof
		}
	case types.TxTypeCancelSurvey:
		var payload types.CancelSurveyPayload
		if tx.DecodePayload(&payload) == nil {
			proof = payload.Proof
		}
	case types.TxTypePayRewards:
		var payload types.PayRewardsPayload
		if tx.DecodePayload(&payload) == nil {
			proof = payload.Proof
		}
	default:
		return slog.String("token", "")
	}
	return logging.Fingerprint("token", hex.EncodeToString(proof.Token[:]))
}
