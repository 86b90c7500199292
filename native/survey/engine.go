package survey

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"surveyledger/core/events"
	"surveyledger/core/state"
	"surveyledger/core/types"
	"surveyledger/native/access"
	"surveyledger/native/bank"
	"surveyledger/native/common"
	"surveyledger/native/proofs"
)

// VaultAddress holds survey deposits and acts as the minting authority of
// badge collections.
var VaultAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("surveyledger/survey/vault"))[12:])
	return addr
}()

type roleTable interface {
	Owner() ([20]byte, error)
	IsManager(addr [20]byte) (bool, error)
	Routing() (access.Routing, bool, error)
}

// Engine applies survey creation, cancellation and reward payment. Every
// mutating call runs against a journal and commits only when it succeeds
// completely; proof tokens are consumed on committed state by the gate and
// stay consumed whatever the outcome.
type Engine struct {
	manager  *state.Manager
	gate     *proofs.Gate
	messages *proofs.Messages
	roles    roleTable
	bank     *bank.Engine
	models   map[Kind]RewardModel
	emitter  events.Emitter
	pending  events.Buffer
	guard    common.Guard
	nowFn    func() time.Time
}

// NewEngine wires the engine to committed state, the role table and the bank.
// Both reward models are enabled; SetModels restricts them.
func NewEngine(manager *state.Manager, chainID uint64, roles roleTable, b *bank.Engine) *Engine {
	registry := proofs.NewRegistry(manager)
	if b == nil {
		b = bank.NewEngine()
	}
	e := &Engine{
		manager:  manager,
		gate:     proofs.NewGate(registry),
		messages: proofs.NewMessages(chainID, registry),
		roles:    roles,
		bank:     b,
		emitter:  events.NoopEmitter{},
		nowFn:    time.Now,
	}
	e.SetModels(NewFixedModel(b, VaultAddress), NewBadgeModel(VaultAddress))
	return e
}

// SetModels replaces the enabled reward models.
func (e *Engine) SetModels(models ...RewardModel) {
	e.models = make(map[Kind]RewardModel, len(models))
	for _, model := range models {
		if model != nil {
			e.models[model.Kind()] = model
		}
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for expiry checks and timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
	e.gate.SetNowFunc(now)
}

// Messages exposes the proof builders bound to this engine's chain id and
// token registry.
func (e *Engine) Messages() *proofs.Messages { return e.messages }

// Bank returns the bank used for deposits, refunds and fixed rewards.
func (e *Engine) Bank() *bank.Engine { return e.bank }

func (e *Engine) now() uint64 {
	ts := e.nowFn().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) emit(evt *types.Event) {
	e.pending.Emit(surveyEvent{evt: evt})
}

// execute runs fn on a fresh journal. The journal is committed and buffered
// events are published only if fn succeeds.
func (e *Engine) execute(fn func(j *state.Journal) error) error {
	if e == nil || e.manager == nil {
		return fmt.Errorf("survey: engine not configured")
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	e.pending.Reset()
	j := e.manager.Begin()
	defer j.Discard()
	if err := fn(j); err != nil {
		e.pending.Reset()
		return err
	}
	if err := j.Commit(); err != nil {
		e.pending.Reset()
		return fmt.Errorf("survey: commit: %w", err)
	}
	e.pending.Flush(e.emitter)
	return nil
}

func (e *Engine) authorize(hash [32]byte, auth Authorization) error {
	signer, err := e.gate.Preauthorize(hash, auth.Token, auth.Expiry, auth.Signature)
	if err != nil {
		return err
	}
	ok, err := e.roles.IsManager(signer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSigner
	}
	return nil
}

func (e *Engine) model(kind Kind) (RewardModel, error) {
	model, ok := e.models[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, kind)
	}
	return model, nil
}

func transferFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrTransferFailed, err)
}

// CreateSurvey stores a new survey funded with value from caller. The routing
// fee is forwarded to the routing address in the same unit of work; if that
// forward fails nothing but the consumed proof token remains.
func (e *Engine) CreateSurvey(caller [20]byte, auth Authorization, params CreateParams, value *big.Int) (*Survey, error) {
	var created *Survey
	err := e.execute(func(j *state.Journal) error {
		if caller != params.Owner {
			return ErrNotCreator
		}
		if strings.TrimSpace(params.SurveyID) == "" {
			return ErrInvalidSurveyID
		}
		if existing, err := loadSurvey(j, params.SurveyID); err != nil {
			return err
		} else if existing != nil {
			return ErrSurveyExists
		}
		hash, err := e.messages.CreateProof(auth.proof(), params.Payload())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if err := e.authorize(hash, auth); err != nil {
			return err
		}

		model, err := e.model(params.Kind())
		if err != nil {
			return err
		}
		required, err := model.RequiredDeposit(params)
		if err != nil {
			return err
		}
		attached := cloneBigInt(value)
		if attached.Cmp(required) != 0 {
			return fmt.Errorf("%w: attached %s, required %s", ErrInvalidValue, attached, required)
		}

		record := &Survey{
			ID:                params.SurveyID,
			Creator:           params.Owner,
			Kind:              model.Kind(),
			ParticipantsLimit: params.ParticipantLimit,
			ContentHash:       params.ContentHash,
			RoutingFee:        cloneBigInt(params.RoutingFee),
			CreatedAt:         e.now(),
		}
		if err := model.Bind(j, record, params); err != nil {
			return err
		}
		if err := storeSurvey(j, record); err != nil {
			return err
		}

		stored, err := loadSurvey(j, record.ID)
		if err != nil {
			return err
		}
		funding, err := model.Funding(stored)
		if err != nil {
			return err
		}
		if funding.Cmp(attached) != 0 {
			return fmt.Errorf("%w: stored funding %s, attached %s", ErrInvalidRewardAmount, funding, attached)
		}

		if err := e.bank.Transfer(j, caller, VaultAddress, attached); err != nil {
			return err
		}
		if err := e.forwardFee(j, stored.RoutingFee); err != nil {
			return err
		}

		e.emit(NewCreatedEvent(stored))
		e.emit(NewFundedEvent(stored, attached))
		created = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) forwardFee(j *state.Journal, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	routing, ok, err := e.roles.Routing()
	if err != nil {
		return err
	}
	if !ok {
		return transferFailed(fmt.Errorf("routing address not configured"))
	}
	if err := e.bank.Transfer(j, VaultAddress, routing.Address, fee); err != nil {
		return transferFailed(err)
	}
	return nil
}

// CancelSurvey marks an active survey canceled and refunds the unpaid reward
// pool to its creator.
func (e *Engine) CancelSurvey(caller [20]byte, auth Authorization, surveyID string) (*Survey, error) {
	var canceled *Survey
	err := e.execute(func(j *state.Journal) error {
		record, err := loadSurvey(j, surveyID)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrSurveyNotFound
		}
		if record.Canceled {
			return ErrAlreadyCanceled
		}
		if caller != record.Creator {
			isManager, err := e.roles.IsManager(caller)
			if err != nil {
				return err
			}
			if !isManager {
				return ErrNotAuthorized
			}
		}
		if record.Exhausted() {
			return ErrAlreadyExhausted
		}
		hash, err := e.messages.CancelProof(auth.proof(), surveyID)
		if err != nil {
			return err
		}
		if err := e.authorize(hash, auth); err != nil {
			return err
		}

		model, err := e.model(record.Kind)
		if err != nil {
			return err
		}
		refund, err := model.Refund(record)
		if err != nil {
			return err
		}
		record.Canceled = true
		record.CanceledAt = e.now()
		if err := storeSurvey(j, record); err != nil {
			return err
		}
		if err := e.bank.Transfer(j, VaultAddress, record.Creator, refund); err != nil {
			return transferFailed(err)
		}
		e.emit(NewCanceledEvent(record, refund))
		canceled = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

// PayRewards issues one reward per (survey, participant) pair in input order.
// The batch is all-or-nothing.
func (e *Engine) PayRewards(caller [20]byte, auth Authorization, surveyIDs []string, participants [][20]byte) error {
	return e.execute(func(j *state.Journal) error {
		if len(surveyIDs) != len(participants) {
			return ErrLengthMismatch
		}
		hash, err := e.messages.RewardProof(auth.proof(), surveyIDs, participants)
		if err != nil {
			return err
		}
		if err := e.authorize(hash, auth); err != nil {
			return err
		}
		for i, id := range surveyIDs {
			if err := e.payOne(j, id, participants[i]); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}
		return nil
	})
}

func (e *Engine) payOne(j *state.Journal, surveyID string, participant [20]byte) error {
	record, err := loadSurvey(j, surveyID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrSurveyNotFound
	}
	if record.Canceled {
		return ErrSurveyCanceled
	}
	if record.Exhausted() {
		return ErrSurveyExhausted
	}
	if participant == ([20]byte{}) {
		return ErrInvalidParticipant
	}
	rewarded, err := isRewarded(j, surveyID, participant)
	if err != nil {
		return err
	}
	if rewarded {
		return ErrAlreadyRewarded
	}
	model, err := e.model(record.Kind)
	if err != nil {
		return err
	}
	if err := model.Issuer(j, record).Issue(participant); err != nil {
		return transferFailed(err)
	}
	record.ParticipantsRewarded++
	if err := storeSurvey(j, record); err != nil {
		return err
	}
	if err := markRewarded(j, surveyID, participant); err != nil {
		return err
	}
	e.emit(NewRewardPaidEvent(record, participant))
	if record.Exhausted() {
		e.emit(NewFinishedEvent(record))
	}
	return nil
}

type baseURISetter interface {
	SetBaseURI(st state.KV, s *Survey, uri string) error
}

// SetBadgeURI replaces the base URI of a badge survey's collection. Only the
// ledger owner may call it.
func (e *Engine) SetBadgeURI(caller [20]byte, surveyID, uri string) error {
	owner, err := e.roles.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return e.execute(func(j *state.Journal) error {
		record, err := loadSurvey(j, surveyID)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrSurveyNotFound
		}
		if record.Kind != KindBadge {
			return ErrNotBadgeSurvey
		}
		model, err := e.model(record.Kind)
		if err != nil {
			return err
		}
		setter, ok := model.(baseURISetter)
		if !ok {
			return ErrNotBadgeSurvey
		}
		if err := setter.SetBaseURI(j, record, uri); err != nil {
			return err
		}
		e.emit(NewBadgeURIEvent(record, uri))
		return nil
	})
}

// GetSurvey returns a snapshot of the committed survey record.
func (e *Engine) GetSurvey(id string) (*Survey, bool, error) {
	record, err := loadSurvey(e.manager, id)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}
	return record, true, nil
}

// IsRewarded reports whether participant has been rewarded for survey id.
func (e *Engine) IsRewarded(id string, participant [20]byte) (bool, error) {
	return isRewarded(e.manager, id, participant)
}
