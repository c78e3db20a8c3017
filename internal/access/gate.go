// Package access tracks which identities may request decryption of a
// ciphertext handle. Grants are additive only.
package access

import (
	"context"
	"errors"
	"strings"

	"github.com/fhecredit/backend/internal/fhe"
)

var ErrNotAuthorized = errors.New("access: not authorized")

type Repository interface {
	Grant(ctx context.Context, handleID, identity string) error
	IsPermitted(ctx context.Context, handleID, identity string) (bool, error)
}

type Gate struct {
	repo Repository
}

func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo}
}

// Grant is idempotent: re-granting an identity on the same handle is a no-op.
func (g *Gate) Grant(ctx context.Context, ct fhe.Ciphertext, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("access: missing identity")
	}
	return g.repo.Grant(ctx, ct.ID, identity)
}

func (g *Gate) IsPermitted(ctx context.Context, ct fhe.Ciphertext, identity string) (bool, error) {
	return g.repo.IsPermitted(ctx, ct.ID, strings.TrimSpace(identity))
}

// Require rejects at the boundary: handing out a handle without a grant is
// an error, not a convention.
func (g *Gate) Require(ctx context.Context, ct fhe.Ciphertext, identity string) error {
	ok, err := g.IsPermitted(ctx, ct, identity)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}
