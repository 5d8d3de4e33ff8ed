package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/netip"
	"strconv"
	"strings"
)

// Returned by Mask when redaction fails for any reason.
const SentinelMask = "masked"

var ErrEmptySecret = errors.New("identity hash secret must not be empty")

// Codec turns raw identities into storage keys (Hash) and display strings (Mask).
// Neither output can be reversed into the raw value.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Hash returns the hex HMAC-SHA256 of identity under the server secret.
func (c *Codec) Hash(identity string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(identity))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mask keeps the first two groups of an IP address. It never panics.
func (c *Codec) Mask(identity string) (masked string) {
	defer func() {
		if recover() != nil {
			masked = SentinelMask
		}
	}()
	return mask(identity)
}

func mask(identity string) string {
	switch identity {
	case Unknown, System, Localhost:
		return identity
	}

	addr, err := netip.ParseAddr(identity)
	if err != nil {
		return truncate(identity)
	}
	addr = addr.WithZone("").Unmap()

	if addr.Is4() {
		b := addr.As4()
		return strconv.Itoa(int(b[0])) + "." + strconv.Itoa(int(b[1])) + ".xxx.xxx"
	}

	groups := strings.Split(addr.StringExpanded(), ":")
	if len(groups) != 8 {
		return SentinelMask
	}

	out := make([]string, 8)
	for i := range out {
		if i < 2 {
			v, err := strconv.ParseUint(groups[i], 16, 16)
			if err != nil {
				return SentinelMask
			}
			out[i] = strconv.FormatUint(v, 16)
			continue
		}
		out[i] = "xxxx"
	}
	return strings.Join(out, ":")
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= 4 {
		return "***"
	}
	return string(runes[:4]) + "***"
}
