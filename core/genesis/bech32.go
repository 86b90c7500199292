package genesis

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AccountHRP is the human readable prefix of bech32 account strings.
const AccountHRP = "svy"

// ParseAccount accepts a 0x-prefixed hex address or a bech32 address with the
// svy prefix.
func ParseAccount(addr string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(addr)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return out, fmt.Errorf("decode hex account: %w", err)
		}
		if len(raw) != len(out) {
			return out, fmt.Errorf("decode hex account: invalid address length %d", len(raw))
		}
		copy(out[:], raw)
		return out, nil
	}
	hrp, data, err := bech32.Decode(trimmed)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if hrp != AccountHRP {
		return out, fmt.Errorf("decode bech32 account: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("decode bech32 account: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("decode bech32 account: invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// FormatAccount renders addr in bech32 form.
func FormatAccount(addr [20]byte) (string, error) {
	data, err := bech32.ConvertBits(addr[:], 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AccountHRP, data)
}
