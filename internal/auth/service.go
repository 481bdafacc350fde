package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/store"
)

// Service implements §4.C authentication: registration, login, and session resolution. Handlers stay
// thin wrappers around request parsing and response formatting.
type Service struct {
	store *store.Store
	cost  int
	log   zerolog.Logger

	// dummyHash is a precomputed bcrypt hash used to keep Login's timing constant when the email is
	// not found, preventing account enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service. It returns an error if bcrypt hashing is broken,
// since password hashing is fundamental to every auth operation.
func NewService(st *store.Store, bcryptCost int, logger zerolog.Logger) (*Service, error) {
	dummy, err := HashPassword("campfire-dummy-password", bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		store:     st,
		cost:      bcryptCost,
		log:       logger.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}, nil
}

// Register validates inputs, creates the user, and returns a freshly minted session.
func (s *Service) Register(ctx context.Context, email, name, password string) (*store.User, *store.Session, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, nil, err
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, store.User{
		Name:         name,
		Email:        normalized,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, nil, ErrEmailAlreadyTaken
		}
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	sess, err := s.store.CreateSession(ctx, u.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Debug().Str("user_id", u.ID.String()).Msg("user registered")
	return u, sess, nil
}

// Login verifies credentials and returns the user with a freshly minted session.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, *store.Session, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	u, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Compare against a dummy hash to prevent timing-based email enumeration. Without this,
			// "user not found" returns faster than "wrong password" because bcrypt is skipped.
			VerifyPassword(password, s.dummyHash)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	if !VerifyPassword(password, u.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	if NeedsRehash(u.PasswordHash, s.cost) {
		s.log.Debug().Str("user_id", u.ID.String()).Msg("password hash below configured cost, rehash on next write path not yet implemented")
	}

	sess, err := s.store.CreateSession(ctx, u.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Debug().Str("user_id", u.ID.String()).Msg("user logged in")
	return u, sess, nil
}

// Authenticate resolves a bearer session token to its owning user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	sess, err := s.store.ResolveSession(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionUnknown) || errors.Is(err, store.ErrSessionExpired) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	u, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// AuthenticateBot resolves a bot token (used on the bot-posting API surface, §4.H) to its owning user.
func (s *Service) AuthenticateBot(ctx context.Context, token string) (*store.User, error) {
	u, err := s.store.GetUserByBotToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get bot user: %w", err)
	}
	return u, nil
}

// Logout revokes a session token. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.RevokeSession(ctx, token)
}
