package middleware

import (
	"gardenhub/auth"

	"github.com/rs/zerolog"
)

type MiddlewareManager struct {
	auth *auth.AuthModule
	lg   zerolog.Logger
}

func NewMiddlewareManager(auth *auth.AuthModule, lg zerolog.Logger) *MiddlewareManager {
	return &MiddlewareManager{
		auth: auth,
		lg:   lg.With().Str("component", "middleware").Logger(),
	}
}
