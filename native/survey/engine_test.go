package survey

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"surveyledger/core/events"
	"surveyledger/core/state"
	"surveyledger/native/access"
	"surveyledger/native/badge"
	"surveyledger/native/bank"
	"surveyledger/native/common"
	"surveyledger/native/proofs"
	"surveyledger/storage"
)

const testChainID = 7

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func newTestAddress(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

type harness struct {
	t          *testing.T
	engine     *Engine
	manager    *state.Manager
	roles      *access.Engine
	emitter    *capturingEmitter
	owner      [20]byte
	creator    [20]byte
	route      [20]byte
	signer     *ecdsa.PrivateKey
	signerAddr [20]byte
	now        time.Time
	nextToken  uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		manager: state.NewManager(storage.NewMemDB()),
		owner:   newTestAddress(0x01),
		creator: newTestAddress(0x02),
		route:   newTestAddress(0x03),
		now:     time.Unix(1_700_000_000, 0),
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	h.signer = key
	copy(h.signerAddr[:], ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())

	h.roles = access.NewEngine()
	h.roles.SetState(h.manager)
	if err := h.roles.Initialize(h.owner); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.roles.SetManager(h.owner, h.signerAddr, true); err != nil {
		t.Fatalf("set manager: %v", err)
	}
	if err := h.roles.SetRouting(h.owner, h.route, newTestAddress(0x04)); err != nil {
		t.Fatalf("set routing: %v", err)
	}
	if err := bank.Mint(h.manager, h.creator, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	h.engine = NewEngine(h.manager, testChainID, h.roles, bank.NewEngine())
	h.engine.SetNowFunc(func() time.Time { return h.now })
	h.emitter = &capturingEmitter{}
	h.engine.SetEmitter(h.emitter)
	return h
}

func (h *harness) proof() proofs.Proof {
	h.nextToken++
	var token [32]byte
	token[0] = 0xAB
	big.NewInt(0).SetUint64(h.nextToken).FillBytes(token[24:])
	return proofs.Proof{Token: token, Expiry: uint64(h.now.Unix()) + 600}
}

func (h *harness) sign(key *ecdsa.PrivateKey, proof proofs.Proof, hash [32]byte) Authorization {
	h.t.Helper()
	sig, err := proofs.Sign(hash, key)
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return Authorization{Signature: sig, Token: proof.Token, Expiry: proof.Expiry}
}

func (h *harness) createAuthWith(key *ecdsa.PrivateKey, params CreateParams) Authorization {
	h.t.Helper()
	proof := h.proof()
	hash, err := proofs.CreateHash(testChainID, proof, params.Payload())
	if err != nil {
		h.t.Fatalf("create hash: %v", err)
	}
	return h.sign(key, proof, hash)
}

func (h *harness) createAuth(params CreateParams) Authorization {
	return h.createAuthWith(h.signer, params)
}

func (h *harness) cancelAuth(id string) Authorization {
	h.t.Helper()
	proof := h.proof()
	hash, _ := proofs.CancelHash(testChainID, proof, id)
	return h.sign(h.signer, proof, hash)
}

func (h *harness) rewardAuth(ids []string, participants [][20]byte) Authorization {
	h.t.Helper()
	proof := h.proof()
	hash, _ := proofs.RewardHash(testChainID, proof, ids, participants)
	return h.sign(h.signer, proof, hash)
}

func (h *harness) balance(addr [20]byte) int64 {
	h.t.Helper()
	balance, err := bank.Balance(h.manager, addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return balance.Int64()
}

func fixedParams(owner [20]byte, id string, limit uint64, reward, fee int64) CreateParams {
	return CreateParams{
		Owner:            owner,
		SurveyID:         id,
		ParticipantLimit: limit,
		RewardAmount:     big.NewInt(reward),
		ContentHash:      ethcrypto.Keccak256Hash([]byte(id)),
		RoutingFee:       big.NewInt(fee),
	}
}

func (h *harness) createFixed(id string, limit uint64, reward, fee int64) *Survey {
	h.t.Helper()
	params := fixedParams(h.creator, id, limit, reward, fee)
	value := big.NewInt(int64(limit)*reward + fee)
	s, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, value)
	if err != nil {
		h.t.Fatalf("create survey %s: %v", id, err)
	}
	return s
}

func participants(n int) [][20]byte {
	out := make([][20]byte, n)
	for i := range out {
		out[i] = newTestAddress(byte(0x40 + i))
	}
	return out
}

func repeat(id string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = id
	}
	return out
}

func TestCreateSurveyFundsVaultAndForwardsFee(t *testing.T) {
	h := newHarness(t)
	s := h.createFixed("s1", 3, 100, 10)

	if s.Status() != StatusActive || s.Kind != KindFixed {
		t.Fatalf("unexpected survey %+v", s)
	}
	if got := h.balance(h.creator); got != 1_000_000-310 {
		t.Fatalf("creator balance %d", got)
	}
	if got := h.balance(VaultAddress); got != 300 {
		t.Fatalf("vault balance %d", got)
	}
	if got := h.balance(h.route); got != 10 {
		t.Fatalf("routing balance %d", got)
	}
	if types := h.emitter.types(); len(types) != 2 || types[0] != EventTypeSurveyCreated || types[1] != EventTypeSurveyFunded {
		t.Fatalf("unexpected events %v", types)
	}
	stored, ok, err := h.engine.GetSurvey("s1")
	if err != nil || !ok {
		t.Fatalf("get survey: ok=%v err=%v", ok, err)
	}
	if stored.Creator != h.creator || stored.RewardAmount.Int64() != 100 || stored.CreatedAt != uint64(h.now.Unix()) {
		t.Fatalf("unexpected stored survey %+v", stored)
	}
	if err := bank.CheckSupply(h.manager, [][20]byte{h.creator, VaultAddress, h.route}, true); err != nil {
		t.Fatalf("supply: %v", err)
	}
}

func TestCreateSurveyPreconditions(t *testing.T) {
	h := newHarness(t)
	params := fixedParams(h.creator, "s1", 2, 50, 5)

	if _, err := h.engine.CreateSurvey(h.owner, h.createAuth(params), params, big.NewInt(105)); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("expected ErrNotCreator, got %v", err)
	}

	stranger, _ := ethcrypto.GenerateKey()
	if _, err := h.engine.CreateSurvey(h.creator, h.createAuthWith(stranger, params), params, big.NewInt(105)); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}

	auth := h.createAuth(params)
	if _, err := h.engine.CreateSurvey(h.creator, auth, params, big.NewInt(104)); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if _, ok, _ := h.engine.GetSurvey("s1"); ok {
		t.Fatalf("failed creation must not store the survey")
	}
	// The token was consumed by the failed call.
	if _, err := h.engine.CreateSurvey(h.creator, auth, params, big.NewInt(105)); !errors.Is(err, common.ErrClassReplay) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	h.createFixed("s1", 2, 50, 5)
	for name, run := range map[string]func() error{
		"manager signer": func() error {
			_, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(105))
			return err
		},
		"stranger signer": func() error {
			_, err := h.engine.CreateSurvey(h.creator, h.createAuthWith(stranger, params), params, big.NewInt(105))
			return err
		},
		"wrong value": func() error {
			_, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(1))
			return err
		},
	} {
		if err := run(); !errors.Is(err, ErrSurveyExists) {
			t.Fatalf("%s: expected ErrSurveyExists, got %v", name, err)
		}
	}

	empty := fixedParams(h.creator, "", 1, 1, 0)
	if _, err := h.engine.CreateSurvey(h.creator, h.createAuth(empty), empty, big.NewInt(1)); !errors.Is(err, ErrInvalidSurveyID) {
		t.Fatalf("expected ErrInvalidSurveyID, got %v", err)
	}
}

func TestCreateSurveyRejectsExpiredAndTamperedProofs(t *testing.T) {
	h := newHarness(t)
	params := fixedParams(h.creator, "s1", 1, 10, 0)

	auth := h.createAuth(params)
	h.now = h.now.Add(time.Hour)
	if _, err := h.engine.CreateSurvey(h.creator, auth, params, big.NewInt(10)); !errors.Is(err, proofs.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	auth = h.createAuth(params)
	tampered := params
	tampered.RewardAmount = big.NewInt(1)
	if _, err := h.engine.CreateSurvey(h.creator, auth, tampered, big.NewInt(1)); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("tampered payload must not authorize, got %v", err)
	}
}

func TestCreateSurveyRollsBackWhenFeeForwardFails(t *testing.T) {
	h := newHarness(t)
	h.engine.Bank().SetReceiveHook(h.route, func([20]byte, *big.Int) error {
		return errors.New("routing refuses funds")
	})
	params := fixedParams(h.creator, "s1", 2, 100, 7)
	auth := h.createAuth(params)
	_, err := h.engine.CreateSurvey(h.creator, auth, params, big.NewInt(207))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, common.ErrClassTransfer) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if _, ok, _ := h.engine.GetSurvey("s1"); ok {
		t.Fatalf("survey must not be committed")
	}
	if h.balance(h.creator) != 1_000_000 || h.balance(VaultAddress) != 0 || h.balance(h.route) != 0 {
		t.Fatalf("balances changed by rolled back creation")
	}
	if len(h.emitter.events) != 0 {
		t.Fatalf("rolled back creation emitted %v", h.emitter.types())
	}
	if used, _ := h.engine.gate.Registry().IsUsed(auth.Token); !used {
		t.Fatalf("token must stay consumed")
	}
}

func TestRewardRoundTripExhaustsSurvey(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 3, 100, 0)
	people := participants(4)

	first := people[:2]
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth(repeat("s1", 2), first), repeat("s1", 2), first); err != nil {
		t.Fatalf("pay first batch: %v", err)
	}
	if h.emitter.count(EventTypeSurveyFinished) != 0 {
		t.Fatalf("survey finished too early")
	}
	last := people[2:3]
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, last), []string{"s1"}, last); err != nil {
		t.Fatalf("pay last: %v", err)
	}

	s, _, _ := h.engine.GetSurvey("s1")
	if s.ParticipantsRewarded != 3 || s.Status() != StatusExhausted {
		t.Fatalf("unexpected survey %+v", s)
	}
	if h.emitter.count(EventTypeRewardPaid) != 3 || h.emitter.count(EventTypeSurveyFinished) != 1 {
		t.Fatalf("unexpected events %v", h.emitter.types())
	}
	for _, p := range people[:3] {
		if h.balance(p) != 100 {
			t.Fatalf("participant %x balance %d", p, h.balance(p))
		}
		if ok, _ := h.engine.IsRewarded("s1", p); !ok {
			t.Fatalf("participant %x not recorded", p)
		}
	}
	if h.balance(VaultAddress) != 0 {
		t.Fatalf("vault should be drained, has %d", h.balance(VaultAddress))
	}

	extra := people[3:]
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, extra), []string{"s1"}, extra); !errors.Is(err, ErrSurveyExhausted) {
		t.Fatalf("expected ErrSurveyExhausted, got %v", err)
	}
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("s1"), "s1"); !errors.Is(err, ErrAlreadyExhausted) {
		t.Fatalf("expected ErrAlreadyExhausted, got %v", err)
	}
	if err := bank.CheckSupply(h.manager, append([][20]byte{h.creator, VaultAddress, h.route}, people...), true); err != nil {
		t.Fatalf("supply: %v", err)
	}
}

func TestPayRewardsBatchIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 5, 10, 0)
	h.createFixed("s2", 5, 10, 0)
	people := participants(3)

	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, people[:1]), []string{"s1"}, people[:1]); err != nil {
		t.Fatalf("seed reward: %v", err)
	}
	h.emitter.events = nil

	ids := []string{"s2", "s1", "s1"}
	batch := [][20]byte{people[1], people[2], people[0]}
	err := h.engine.PayRewards(h.signerAddr, h.rewardAuth(ids, batch), ids, batch)
	if !errors.Is(err, ErrAlreadyRewarded) {
		t.Fatalf("expected ErrAlreadyRewarded, got %v", err)
	}
	if h.balance(people[1]) != 0 || h.balance(people[2]) != 0 {
		t.Fatalf("partial issuance leaked")
	}
	s1, _, _ := h.engine.GetSurvey("s1")
	s2, _, _ := h.engine.GetSurvey("s2")
	if s1.ParticipantsRewarded != 1 || s2.ParticipantsRewarded != 0 {
		t.Fatalf("counters changed: s1=%d s2=%d", s1.ParticipantsRewarded, s2.ParticipantsRewarded)
	}
	if len(h.emitter.events) != 0 {
		t.Fatalf("failed batch emitted %v", h.emitter.types())
	}

	dup := [][20]byte{people[1], people[1]}
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth(repeat("s2", 2), dup), repeat("s2", 2), dup); !errors.Is(err, ErrAlreadyRewarded) {
		t.Fatalf("duplicate within batch: expected ErrAlreadyRewarded, got %v", err)
	}
	if ok, _ := h.engine.IsRewarded("s2", people[1]); ok {
		t.Fatalf("first occurrence must be rolled back with the batch")
	}
}

func TestPayRewardsRejections(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 2, 10, 0)
	people := participants(2)

	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, people), []string{"s1"}, people); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"nope"}, people[:1]), []string{"nope"}, people[:1]); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	zero := [][20]byte{{}}
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, zero), []string{"s1"}, zero); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}

	stranger, _ := ethcrypto.GenerateKey()
	proof := h.proof()
	hash, _ := proofs.RewardHash(testChainID, proof, []string{"s1"}, people[:1])
	if err := h.engine.PayRewards(h.signerAddr, h.sign(stranger, proof, hash), []string{"s1"}, people[:1]); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}

	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("s1"), "s1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, people[:1]), []string{"s1"}, people[:1]); !errors.Is(err, ErrSurveyCanceled) {
		t.Fatalf("expected ErrSurveyCanceled, got %v", err)
	}
}

func TestRewardProofBindsOnlyListLengths(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 2, 10, 0)
	people := participants(2)
	auth := h.rewardAuth([]string{"s1"}, people[:1])
	if err := h.engine.PayRewards(h.signerAddr, auth, []string{"s1"}, people[1:2]); err != nil {
		t.Fatalf("same-length substitution is accepted: %v", err)
	}
	if ok, _ := h.engine.IsRewarded("s1", people[1]); !ok {
		t.Fatalf("substituted participant should be rewarded")
	}
}

func TestCancelRefundsUnpaidPool(t *testing.T) {
	h := newHarness(t)
	h.createFixed("full", 3, 100, 10)
	h.createFixed("partial", 3, 100, 0)
	start := h.balance(h.creator)

	s, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("full"), "full")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !s.Canceled || s.CanceledAt != uint64(h.now.Unix()) || s.Status() != StatusCanceled {
		t.Fatalf("unexpected canceled survey %+v", s)
	}
	if got := h.balance(h.creator) - start; got != 300 {
		t.Fatalf("expected full refund of 300, got %d", got)
	}
	if h.emitter.count(EventTypeSurveyCanceled) != 1 {
		t.Fatalf("expected canceled event")
	}
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("full"), "full"); !errors.Is(err, ErrAlreadyCanceled) {
		t.Fatalf("expected ErrAlreadyCanceled, got %v", err)
	}

	people := participants(1)
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"partial"}, people), []string{"partial"}, people); err != nil {
		t.Fatalf("pay: %v", err)
	}
	stranger := newTestAddress(0x77)
	if _, err := h.engine.CancelSurvey(stranger, h.cancelAuth("partial"), "partial"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	before := h.balance(h.creator)
	if _, err := h.engine.CancelSurvey(h.signerAddr, h.cancelAuth("partial"), "partial"); err != nil {
		t.Fatalf("manager cancel: %v", err)
	}
	if got := h.balance(h.creator) - before; got != 200 {
		t.Fatalf("expected refund of 200, got %d", got)
	}
	if h.balance(VaultAddress) != 0 {
		t.Fatalf("vault should be empty, has %d", h.balance(VaultAddress))
	}
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("missing"), "missing"); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
}

func TestCancelRollsBackWhenRefundRejected(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 2, 100, 0)
	h.engine.Bank().SetReceiveHook(h.creator, func([20]byte, *big.Int) error {
		return errors.New("creator refuses refund")
	})
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("s1"), "s1"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	s, _, _ := h.engine.GetSurvey("s1")
	if s.Canceled {
		t.Fatalf("cancellation must be rolled back")
	}
	if h.balance(VaultAddress) != 200 {
		t.Fatalf("vault balance changed: %d", h.balance(VaultAddress))
	}
}

func TestCancelRejectsForeignSignerAndExpiredProof(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 2, 100, 0)

	outsider, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	proof := h.proof()
	hash, err := proofs.CancelHash(testChainID, proof, "s1")
	if err != nil {
		t.Fatalf("cancel hash: %v", err)
	}
	if _, err := h.engine.CancelSurvey(h.creator, h.sign(outsider, proof, hash), "s1"); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
	if again, _ := h.engine.Messages().CancelProof(proof, "s1"); again != ([32]byte{}) {
		t.Fatalf("token of a rejected cancel must stay consumed")
	}

	expired := h.cancelAuth("s1")
	h.now = h.now.Add(time.Hour)
	if _, err := h.engine.CancelSurvey(h.creator, expired, "s1"); !errors.Is(err, proofs.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	s, _, _ := h.engine.GetSurvey("s1")
	if s.Canceled || h.balance(VaultAddress) != 200 {
		t.Fatalf("rejected cancels must leave the survey funded and active")
	}
	if h.emitter.count(EventTypeSurveyCanceled) != 0 {
		t.Fatalf("no canceled event expected")
	}
}

func TestReentrantCallsAreRejected(t *testing.T) {
	h := newHarness(t)
	h.createFixed("s1", 3, 10, 0)
	people := participants(2)

	var inner []error
	h.engine.Bank().SetReceiveHook(people[0], func([20]byte, *big.Int) error {
		ids := []string{"s1"}
		others := people[1:2]
		inner = append(inner, h.engine.PayRewards(h.signerAddr, h.rewardAuth(ids, others), ids, others))
		_, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("s1"), "s1")
		inner = append(inner, err)
		params := fixedParams(h.creator, "s2", 1, 1, 0)
		_, err = h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(1))
		inner = append(inner, err)
		return nil
	})
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, people[:1]), []string{"s1"}, people[:1]); err != nil {
		t.Fatalf("outer payment: %v", err)
	}
	if len(inner) != 3 {
		t.Fatalf("hook did not run")
	}
	for i, err := range inner {
		if !errors.Is(err, common.ErrReentrant) || !errors.Is(err, common.ErrClassReentrancy) {
			t.Fatalf("inner call %d: expected ErrReentrant, got %v", i, err)
		}
	}
	s, _, _ := h.engine.GetSurvey("s1")
	if s.ParticipantsRewarded != 1 || s.Canceled {
		t.Fatalf("reentrant calls changed state: %+v", s)
	}
	if _, ok, _ := h.engine.GetSurvey("s2"); ok {
		t.Fatalf("reentrant creation committed")
	}

	h.engine.Bank().SetReceiveHook(people[1], func([20]byte, *big.Int) error {
		_, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("s1"), "s1")
		return err
	})
	err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"s1"}, people[1:]), []string{"s1"}, people[1:])
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected propagated reentry to fail the transfer, got %v", err)
	}
	if ok, _ := h.engine.IsRewarded("s1", people[1]); ok {
		t.Fatalf("failed issuance must not be recorded")
	}
}

func TestBadgeSurveyMintsPerParticipant(t *testing.T) {
	h := newHarness(t)
	params := CreateParams{
		Owner:            h.creator,
		SurveyID:         "b1",
		ParticipantLimit: 2,
		Badge:            &proofs.BadgeMetadata{Name: "Survey Badge", Symbol: "SB", BaseURI: "ipfs://b1/"},
		RoutingFee:       big.NewInt(25),
	}
	if _, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(26)); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	s, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(25))
	if err != nil {
		t.Fatalf("create badge survey: %v", err)
	}
	if s.Kind != KindBadge || s.Collection == ([20]byte{}) {
		t.Fatalf("unexpected survey %+v", s)
	}
	if h.balance(h.route) != 25 || h.balance(VaultAddress) != 0 {
		t.Fatalf("fee not forwarded")
	}

	people := participants(2)
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth(repeat("b1", 2), people), repeat("b1", 2), people); err != nil {
		t.Fatalf("pay badges: %v", err)
	}
	for i, p := range people {
		owner, err := badge.OwnerOf(h.manager, s.Collection, uint64(i))
		if err != nil || owner != p {
			t.Fatalf("token %d owner %x err=%v", i, owner, err)
		}
	}
	uri, _ := badge.TokenURI(h.manager, s.Collection, 1)
	if uri != "ipfs://b1/1" {
		t.Fatalf("unexpected token uri %q", uri)
	}
	if h.emitter.count(EventTypeSurveyFinished) != 1 {
		t.Fatalf("expected finished event")
	}
}

func TestBadgeCancelDoesNotRefund(t *testing.T) {
	h := newHarness(t)
	params := CreateParams{
		Owner:            h.creator,
		SurveyID:         "b1",
		ParticipantLimit: 2,
		Badge:            &proofs.BadgeMetadata{Name: "N", Symbol: "S"},
	}
	if _, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := h.balance(h.creator)
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("b1"), "b1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.balance(h.creator) != before {
		t.Fatalf("badge cancellation must not refund")
	}
	evt := h.emitter.events[len(h.emitter.events)-1].(surveyEvent).Event()
	if evt.Attributes["refund"] != "0" {
		t.Fatalf("unexpected refund attribute %q", evt.Attributes["refund"])
	}
}

func TestSetModelsRestrictsKinds(t *testing.T) {
	h := newHarness(t)
	h.engine.SetModels(NewFixedModel(h.engine.Bank(), VaultAddress))
	params := CreateParams{
		Owner:    h.creator,
		SurveyID: "b1",
		Badge:    &proofs.BadgeMetadata{Name: "N", Symbol: "S"},
	}
	if _, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, nil); !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestZeroLimitSurveyIsBornExhausted(t *testing.T) {
	h := newHarness(t)
	s := h.createFixed("empty", 0, 100, 3)
	if s.Status() != StatusExhausted {
		t.Fatalf("expected exhausted survey, got %s", s.Status())
	}
	if _, err := h.engine.CancelSurvey(h.creator, h.cancelAuth("empty"), "empty"); !errors.Is(err, ErrAlreadyExhausted) {
		t.Fatalf("expected ErrAlreadyExhausted, got %v", err)
	}
}

func TestTokenIsGlobalAcrossOperationKinds(t *testing.T) {
	h := newHarness(t)
	params := fixedParams(h.creator, "s1", 1, 10, 0)
	auth := h.createAuth(params)
	if _, err := h.engine.CreateSurvey(h.creator, auth, params, big.NewInt(10)); err != nil {
		t.Fatalf("create: %v", err)
	}
	proof := proofs.Proof{Token: auth.Token, Expiry: auth.Expiry}
	hash, _ := proofs.CancelHash(testChainID, proof, "s1")
	if hash == ([32]byte{}) {
		t.Fatalf("direct hash must not be zero")
	}
	reuse := h.sign(h.signer, proof, hash)
	if _, err := h.engine.CancelSurvey(h.creator, reuse, "s1"); !errors.Is(err, common.ErrClassReplay) {
		t.Fatalf("expected replay rejection across kinds, got %v", err)
	}
	if built, _ := h.engine.Messages().CancelProof(proof, "s1"); built != ([32]byte{}) {
		t.Fatalf("builder must return the zero hash for a used token")
	}
}

func TestFixedFundingOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := fixedFunding(4, huge, big.NewInt(0)); !errors.Is(err, ErrInvalidRewardAmount) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
	got, err := fixedFunding(3, big.NewInt(7), big.NewInt(2))
	if err != nil || got.Int64() != 23 {
		t.Fatalf("unexpected funding %v err=%v", got, err)
	}
}

func TestSetBadgeURIIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	params := CreateParams{
		Owner:            h.creator,
		SurveyID:         "b1",
		ParticipantLimit: 1,
		Badge:            &proofs.BadgeMetadata{Name: "Survey Badge", Symbol: "SB", BaseURI: "ipfs://old/"},
		RoutingFee:       big.NewInt(0),
	}
	s, err := h.engine.CreateSurvey(h.creator, h.createAuth(params), params, big.NewInt(0))
	if err != nil {
		t.Fatalf("create badge survey: %v", err)
	}
	h.createFixed("f1", 1, 10, 0)

	if err := h.engine.SetBadgeURI(h.creator, "b1", "ipfs://new/"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := h.engine.SetBadgeURI(h.owner, "missing", "ipfs://new/"); !errors.Is(err, ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	if err := h.engine.SetBadgeURI(h.owner, "f1", "ipfs://new/"); !errors.Is(err, ErrNotBadgeSurvey) {
		t.Fatalf("expected ErrNotBadgeSurvey, got %v", err)
	}
	if err := h.engine.SetBadgeURI(h.owner, "b1", "ipfs://new/"); err != nil {
		t.Fatalf("set badge uri: %v", err)
	}

	people := participants(1)
	if err := h.engine.PayRewards(h.signerAddr, h.rewardAuth([]string{"b1"}, people), []string{"b1"}, people); err != nil {
		t.Fatalf("pay badge: %v", err)
	}
	uri, err := badge.TokenURI(h.manager, s.Collection, 0)
	if err != nil || uri != "ipfs://new/0" {
		t.Fatalf("unexpected token uri %q err=%v", uri, err)
	}
	if h.emitter.count(EventTypeBadgeURI) != 1 {
		t.Fatalf("expected one badge uri event")
	}
}
