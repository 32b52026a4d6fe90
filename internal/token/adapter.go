package token

import (
	"strings"

	"attest/internal/platform/middleware"
)

// Adapter exposes the JWT service through the middleware's validator
// interface.
type Adapter struct {
	service *JWTService
}

func NewAdapter(service *JWTService) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) ValidateToken(tokenString string) (*middleware.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		UserID: claims.Subject,
		Scopes: strings.Fields(claims.Scope),
	}, nil
}
