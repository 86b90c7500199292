package badge

import (
	"errors"
	"testing"

	"surveyledger/core/state"
	"surveyledger/storage"
)

func newTestAddress(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func TestCollectionLifecycle(t *testing.T) {
	st := state.NewManager(storage.NewMemDB())
	owner := newTestAddress(0x01)
	holder := newTestAddress(0x02)

	collection, err := Create(st, owner, "survey-1", "Survey Badge", "SRV", "ipfs://base/")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if collection.Address != CollectionAddress(owner, "survey-1") {
		t.Fatalf("unexpected collection address")
	}
	if _, err := Create(st, owner, "survey-1", "Again", "AGN", ""); !errors.Is(err, ErrCollectionExists) {
		t.Fatalf("expected ErrCollectionExists, got %v", err)
	}
	if _, err := Create(st, owner, "survey-2", "", "X", ""); !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}

	if _, err := Mint(st, collection.Address, holder, holder); !errors.Is(err, ErrNotCollectionOwner) {
		t.Fatalf("expected ErrNotCollectionOwner, got %v", err)
	}
	if _, err := Mint(st, collection.Address, owner, [20]byte{}); !errors.Is(err, ErrZeroRecipient) {
		t.Fatalf("expected ErrZeroRecipient, got %v", err)
	}
	for want := uint64(0); want < 3; want++ {
		id, err := Mint(st, collection.Address, owner, holder)
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		if id != want {
			t.Fatalf("expected sequential id %d, got %d", want, id)
		}
	}
	if balance, _ := BalanceOf(st, collection.Address, holder); balance != 3 {
		t.Fatalf("expected balance 3, got %d", balance)
	}
	if got, err := OwnerOf(st, collection.Address, 1); err != nil || got != holder {
		t.Fatalf("owner of 1: %x err=%v", got, err)
	}
	if _, err := OwnerOf(st, collection.Address, 9); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	uri, err := TokenURI(st, collection.Address, 2)
	if err != nil || uri != "ipfs://base/2" {
		t.Fatalf("token uri %q err=%v", uri, err)
	}
	if err := SetBaseURI(st, collection.Address, holder, "x"); !errors.Is(err, ErrNotCollectionOwner) {
		t.Fatalf("expected ErrNotCollectionOwner, got %v", err)
	}
	if err := SetBaseURI(st, collection.Address, owner, "https://badges/"); err != nil {
		t.Fatalf("set base uri: %v", err)
	}
	if uri, _ := TokenURI(st, collection.Address, 0); uri != "https://badges/0" {
		t.Fatalf("unexpected uri after update %q", uri)
	}
	if _, err := TokenURI(st, newTestAddress(0x55), 0); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}
