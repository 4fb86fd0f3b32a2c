package validatornode

import (
	"errors"
	"strings"

	"github.com/ligun0805/ctn-bridge/internal/attestation"
)

// ErrAlreadySigned is returned by SignedSetGuard.Commit when id is
// already present in the local signed-set.
var ErrAlreadySigned = errors.New("validatornode: attestation already signed")

// alreadySignedSubstring matches the ledger's rejection text for a
// ProvideSignature choice exercised twice for the same validator party.
// The exact wording is the on-ledger template's business-error message;
// matching substring keeps this resilient to minor phrasing differences.
const alreadySignedSubstring = "already signed"

// IsAlreadySignedError reports whether err represents the ledger
// rejecting a duplicate ProvideSignature submission, as opposed to a
// transient or unrelated failure.
func IsAlreadySignedError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), alreadySignedSubstring)
}

// SignedSetGuard implements the commit-then-verify durability spec.md
// §4.2 step 7 and §4.3 §7 require: an attestation id is added to the
// local signed-set *before* the HSM is asked to sign, so a crash between
// HSM sign and ledger submit does not cause a double-sign race on
// restart. If the subsequent submit fails with anything other than an
// "already signed" condition, the id is rolled back so the next cycle
// may retry.
type SignedSetGuard struct {
	set *attestation.BoundedSet
}

func NewSignedSetGuard(set *attestation.BoundedSet) *SignedSetGuard {
	return &SignedSetGuard{set: set}
}

// Commit runs submit under the commit-then-verify ordering: it inserts id
// first, then calls submit (which performs the HSM sign and ledger
// submit-and-wait), and rolls the insertion back unless submit succeeded
// or failed with "already signed". Returns ErrAlreadySigned without
// calling submit at all if id is already present.
func (g *SignedSetGuard) Commit(id string, submit func() error) error {
	if g.set.Contains(id) {
		return ErrAlreadySigned
	}
	g.set.Add(id)
	err := submit()
	if err != nil && !IsAlreadySignedError(err) {
		g.set.Remove(id)
	}
	return err
}
