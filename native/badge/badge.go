package badge

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"surveyledger/core/state"
	"surveyledger/native/common"
)

const moduleName = "badge"

var (
	ErrCollectionExists   = common.NewError(common.ClassState, moduleName, "COLLECTION_EXISTS", "collection already exists")
	ErrCollectionNotFound = common.NewError(common.ClassState, moduleName, "COLLECTION_NOT_FOUND", "collection not found")
	ErrTokenNotFound      = common.NewError(common.ClassState, moduleName, "TOKEN_NOT_FOUND", "token not found")
	ErrNotCollectionOwner = common.NewError(common.ClassAuthorization, moduleName, "NOT_COLLECTION_OWNER", "caller does not own the collection")
	ErrZeroRecipient      = common.NewError(common.ClassInvalid, moduleName, "ZERO_RECIPIENT", "mint to zero address")
	ErrInvalidMetadata    = common.NewError(common.ClassInvalid, moduleName, "INVALID_METADATA", "name and symbol are required")
)

// Collection is a non-fungible badge series. Token ids are assigned
// sequentially from zero.
type Collection struct {
	Address [20]byte
	Owner   [20]byte
	Name    string
	Symbol  string
	BaseURI string
	Minted  uint64
}

// Clone returns a copy of the collection.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// CollectionAddress derives the address of the collection owned by owner and
// identified by salt.
func CollectionAddress(owner [20]byte, salt string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte(moduleName), owner[:], []byte(salt))
	copy(addr[:], hash[12:])
	return addr
}

func collectionKey(addr [20]byte) []byte {
	return append([]byte(state.PrefixBadge), addr[:]...)
}

func tokenOwnerKey(addr [20]byte, id uint64) []byte {
	key := append([]byte(state.PrefixBadgeOwner), addr[:]...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

func balanceKey(addr, holder [20]byte) []byte {
	key := append([]byte(state.PrefixBadgeCount), addr[:]...)
	return append(key, holder[:]...)
}

// Create registers a new collection owned by owner. Only the owner may mint
// or change the base URI afterwards.
func Create(st state.KV, owner [20]byte, salt, name, symbol, baseURI string) (*Collection, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(symbol) == "" {
		return nil, ErrInvalidMetadata
	}
	addr := CollectionAddress(owner, salt)
	if _, ok, err := Get(st, addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrCollectionExists
	}
	collection := &Collection{Address: addr, Owner: owner, Name: name, Symbol: symbol, BaseURI: baseURI}
	if err := st.KVPut(collectionKey(addr), collection); err != nil {
		return nil, fmt.Errorf("badge: store collection: %w", err)
	}
	return collection.Clone(), nil
}

// Get loads the collection at addr.
func Get(st state.KV, addr [20]byte) (*Collection, bool, error) {
	collection := new(Collection)
	ok, err := st.KVGet(collectionKey(addr), collection)
	if err != nil {
		return nil, false, fmt.Errorf("badge: load collection: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return collection, true, nil
}

func load(st state.KV, addr, caller [20]byte) (*Collection, error) {
	collection, ok, err := Get(st, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if collection.Owner != caller {
		return nil, ErrNotCollectionOwner
	}
	return collection, nil
}

// Mint assigns the next token id of the collection to to.
func Mint(st state.KV, addr, caller, to [20]byte) (uint64, error) {
	if to == ([20]byte{}) {
		return 0, ErrZeroRecipient
	}
	collection, err := load(st, addr, caller)
	if err != nil {
		return 0, err
	}
	id := collection.Minted
	collection.Minted++
	if err := st.KVPut(tokenOwnerKey(addr, id), to); err != nil {
		return 0, fmt.Errorf("badge: store owner: %w", err)
	}
	balance, err := BalanceOf(st, addr, to)
	if err != nil {
		return 0, err
	}
	if err := st.KVPut(balanceKey(addr, to), balance+1); err != nil {
		return 0, fmt.Errorf("badge: store balance: %w", err)
	}
	if err := st.KVPut(collectionKey(addr), collection); err != nil {
		return 0, fmt.Errorf("badge: store collection: %w", err)
	}
	return id, nil
}

// SetBaseURI replaces the URI prefix of the collection.
func SetBaseURI(st state.KV, addr, caller [20]byte, uri string) error {
	collection, err := load(st, addr, caller)
	if err != nil {
		return err
	}
	collection.BaseURI = uri
	if err := st.KVPut(collectionKey(addr), collection); err != nil {
		return fmt.Errorf("badge: store collection: %w", err)
	}
	return nil
}

// OwnerOf returns the holder of token id.
func OwnerOf(st state.KV, addr [20]byte, id uint64) ([20]byte, error) {
	var owner [20]byte
	ok, err := st.KVGet(tokenOwnerKey(addr, id), &owner)
	if err != nil {
		return owner, fmt.Errorf("badge: load owner: %w", err)
	}
	if !ok {
		return owner, ErrTokenNotFound
	}
	return owner, nil
}

// BalanceOf returns the number of tokens of the collection held by holder.
func BalanceOf(st state.KV, addr, holder [20]byte) (uint64, error) {
	var balance uint64
	if _, err := st.KVGet(balanceKey(addr, holder), &balance); err != nil {
		return 0, fmt.Errorf("badge: load balance: %w", err)
	}
	return balance, nil
}

// TokenURI returns the base URI followed by the decimal token id.
func TokenURI(st state.KV, addr [20]byte, id uint64) (string, error) {
	collection, ok, err := Get(st, addr)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrCollectionNotFound
	}
	if id >= collection.Minted {
		return "", ErrTokenNotFound
	}
	return collection.BaseURI + strconv.FormatUint(id, 10), nil
}

// String renders the collection address in hex.
func (c *Collection) String() string {
	if c == nil {
		return ""
	}
	return "0x" + hex.EncodeToString(c.Address[:])
}
