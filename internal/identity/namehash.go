package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// FullNameHash digests a claimed unique name for duplicate detection. Only
// the digest is ever stored; the name itself never reaches the core. Names
// are lowercased and whitespace-normalized first so trivially restyled
// spellings collide.
func FullNameHash(fullName string) common.Hash {
	normalized := strings.Join(strings.Fields(strings.ToLower(fullName)), " ")
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(normalized))
	return common.BytesToHash(h.Sum(nil))
}
