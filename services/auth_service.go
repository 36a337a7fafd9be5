package services

import (
	"fmt"

	"chat-core/auth"
	"chat-core/domain"
	"chat-core/errors"
	"chat-core/mentions"
	"chat-core/repositories"
)

type IAuthService interface {
	Register(username, email, password string) (domain.Identity, Token, error)
	Login(email, password string) (domain.Identity, Token, error)
	Authenticate(token string) (domain.Identity, error)
}

type Token string

type AuthService struct {
	userRepository repositories.IUserRepository
	tokens         *auth.TokenManager
	scanner        *mentions.Scanner
}

// NewAuthService wires the user repository, the token manager, and the
// mention scanner the service keeps current as identities register.
// scanner may be nil when mention extraction is not wanted.
func NewAuthService(repo repositories.IUserRepository, tokens *auth.TokenManager,
	scanner *mentions.Scanner) IAuthService {
	return &AuthService{userRepository: repo, tokens: tokens, scanner: scanner}
}

func (s *AuthService) Register(username, email, password string) (domain.Identity, Token, error) {
	// Business rules first, before any expensive cryptographic work.
	if err := auth.ValidateRegister(auth.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	}); err != nil {
		return domain.Identity{}, "", fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}

	// Hash in the service layer so the repository never sees a plain password.
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("hashing failed: %w", err)
	}

	identity, err := s.userRepository.CreateUser(username, email, hashed)
	if err != nil {
		return domain.Identity{}, "", err
	}

	// The new username becomes mentionable right away; a failed automaton
	// rebuild must not undo a committed registration.
	_ = s.scanner.Add(identity)

	token, err := s.tokens.Generate(identity)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return identity, Token(token), nil
}

func (s *AuthService) Login(email, password string) (domain.Identity, Token, error) {
	record, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		return domain.Identity{}, "", err
	}

	match, err := auth.ComparePassword(password, record.PasswordHash)
	if err != nil {
		return domain.Identity{}, "", err
	}
	if !match {
		return domain.Identity{}, "", errors.ErrInvalidCredentials
	}

	identity := record.Identity()
	identity.Status = domain.StatusOnline

	token, err := s.tokens.Generate(identity)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return identity, Token(token), nil
}

// Authenticate resolves a bearer token into the identity it was issued
// for. The username travels inside the claims so no lookup is needed.
func (s *AuthService) Authenticate(token string) (domain.Identity, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidCredentials, err)
	}
	return domain.Identity{
		ID:       domain.IdentityID(claims.IdentityID),
		Username: claims.Username,
		Status:   domain.StatusOnline,
	}, nil
}
