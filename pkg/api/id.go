package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	responseIDPrefix = "resp_"
	messageIDPrefix  = "msg_"
	callIDPrefix     = "call_"
	functionIDPrefix = "fc_"
	reasonIDPrefix   = "rs_"
	searchIDPrefix   = "ws_"
)

var responseIDPattern = regexp.MustCompile(`^resp_[a-zA-Z0-9]{24}$`)

// NewResponseID generates "resp_" followed by 24 random alphanumerics.
func NewResponseID() string {
	return responseIDPrefix + randomAlphanumeric(idLength)
}

// NewItemID generates an output item id whose prefix follows the item type.
func NewItemID(t ItemType) string {
	prefix := messageIDPrefix
	switch t {
	case ItemTypeFunctionCall:
		prefix = functionIDPrefix
	case ItemTypeReasoning:
		prefix = reasonIDPrefix
	case ItemTypeWebSearchCall:
		prefix = searchIDPrefix
	}
	return prefix + randomAlphanumeric(idLength)
}

// NewCallID generates a function call id for backends that do not supply one.
func NewCallID() string {
	return callIDPrefix + randomAlphanumeric(idLength)
}

// ValidateResponseID reports whether id has the response id format.
func ValidateResponseID(id string) bool {
	return responseIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
