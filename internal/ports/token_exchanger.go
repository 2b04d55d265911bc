package ports

import (
	"context"

	"github.com/bnema/possync/internal/domain"
)

type TokenExchanger interface {
	// ObtainTokens exchanges user credentials for an access/refresh pair.
	ObtainTokens(ctx context.Context, username, password string) (domain.Tokens, error)
	// RefreshAccessToken exchanges a refresh credential for a new access credential.
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}
