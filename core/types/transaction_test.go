package types

import (
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestTransactionSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	tx := &Transaction{ChainID: 7, Type: TxTypeSetManager, Nonce: 3, Value: big.NewInt(0)}
	if err := tx.EncodePayload(SetManagerPayload{Manager: [20]byte{0x01}, Enabled: true}); err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := tx.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	if from != [20]byte(want) {
		t.Fatalf("unexpected sender %x", from)
	}

	var payload SetManagerPayload
	if err := tx.DecodePayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Manager != ([20]byte{0x01}) || !payload.Enabled {
		t.Fatalf("unexpected payload %+v", payload)
	}

	sig, err := tx.Signature()
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	copyTx := &Transaction{ChainID: 7, Type: TxTypeSetManager, Nonce: 3, Value: big.NewInt(0), Data: tx.Data}
	if err := copyTx.SetSignature(sig); err != nil {
		t.Fatalf("set signature: %v", err)
	}
	if again, err := copyTx.From(); err != nil || again != from {
		t.Fatalf("round-tripped signature recovered %x err=%v", again, err)
	}
}

func TestTransactionHashCoversChainAndNonce(t *testing.T) {
	base := &Transaction{ChainID: 1, Type: TxTypeCancelSurvey, Nonce: 1, Data: []byte{0x01}}
	h1, _ := base.Hash()
	for name, tx := range map[string]*Transaction{
		"chain": {ChainID: 2, Type: TxTypeCancelSurvey, Nonce: 1, Data: []byte{0x01}},
		"nonce": {ChainID: 1, Type: TxTypeCancelSurvey, Nonce: 2, Data: []byte{0x01}},
		"type":  {ChainID: 1, Type: TxTypePayRewards, Nonce: 1, Data: []byte{0x01}},
		"value": {ChainID: 1, Type: TxTypeCancelSurvey, Nonce: 1, Value: big.NewInt(1), Data: []byte{0x01}},
	} {
		h2, _ := tx.Hash()
		if h1 == h2 {
			t.Fatalf("%s: hash did not change", name)
		}
	}
}

func TestTransactionRejectsMissingSignature(t *testing.T) {
	tx := &Transaction{ChainID: 1, Type: TxTypeAcceptOwnership}
	if _, err := tx.From(); !errors.Is(err, ErrInvalidTxSignature) {
		t.Fatalf("expected ErrInvalidTxSignature, got %v", err)
	}
	if err := tx.SetSignature([]byte{0x01}); !errors.Is(err, ErrInvalidTxSignature) {
		t.Fatalf("expected short signature to be rejected, got %v", err)
	}
	if TxType(0x7f).Valid() || !TxTypePayRewards.Valid() {
		t.Fatalf("unexpected validity result")
	}
	if TxTypeCreateSurvey.String() != "create_survey" {
		t.Fatalf("unexpected name %s", TxTypeCreateSurvey)
	}
}

func TestParseTxTypeRoundTrip(t *testing.T) {
	for _, txType := range []TxType{TxTypeSetManager, TxTypeCreateSurvey, TxTypePayRewards} {
		parsed, ok := ParseTxType(txType.String())
		if !ok || parsed != txType {
			t.Fatalf("round trip %s: got %v ok=%v", txType, parsed, ok)
		}
	}
	if _, ok := ParseTxType("mint"); ok {
		t.Fatalf("unknown name must not parse")
	}
}
