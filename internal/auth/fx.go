package auth

import (
	"github.com/smallbiznis/entrance/internal/auth/password"
	"github.com/smallbiznis/entrance/internal/auth/repository"
	"github.com/smallbiznis/entrance/internal/auth/service"
	"github.com/smallbiznis/entrance/internal/auth/session"
	"go.uber.org/fx"
)

// Module provides account storage, password hashing and the session
// service with its cookie manager.
var Module = fx.Module("auth",
	fx.Provide(
		repository.New,
		service.New,
		password.NewHasher,
		session.NewManager,
	),
)
