package snapshot

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// IDProvider issues identifiers for locally created documents.
type IDProvider interface {
	NewID() (string, error)
}

type numericProvider struct{}

// NewNumericIDProvider constructs an IDProvider issuing random ten-digit
// decimal identifiers, the identity format used across all collections.
func NewNumericIDProvider() IDProvider {
	return &numericProvider{}
}

const tenDigitSpan = 9_000_000_000

func (p *numericProvider) NewID() (string, error) {
	offset, err := rand.Int(rand.Reader, big.NewInt(tenDigitSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", offset.Int64()+1_000_000_000), nil
}
