package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/repositories"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrTokenExpired is wrapped into the error ValidateToken returns for a
// well-formed token whose exp has passed.
var ErrTokenExpired = errors.New("token expired")

// AuthService handles business logic for authentication and authorization.
type AuthService struct {
	userRepo    repositories.UserRepository
	partnerRepo repositories.PartnerRepository
	jwtSecret   []byte
	tokenTTL    time.Duration // Duration for which JWT is valid
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repositories.UserRepository, partnerRepo repositories.PartnerRepository, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		partnerRepo: partnerRepo,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

// RegisterUser registers a new user, hashes their password, and saves them to the database.
// Delivery users also get an unapproved, inactive partner profile.
func (s *AuthService) RegisterUser(ctx context.Context, user *models.User) error {
	if user.Role == models.RoleAdmin || !user.Role.Valid() {
		return apperr.New(apperr.KindValidation, "role %q cannot be registered", user.Role)
	}
	// Check if username or email already exists
	if existingUser, err := s.userRepo.GetByUsername(ctx, user.Username); err == nil && existingUser != nil {
		return apperr.New(apperr.KindConflict, "username '%s' already taken", user.Username)
	}
	if existingUser, err := s.userRepo.GetByEmail(ctx, user.Email); err == nil && existingUser != nil {
		return apperr.New(apperr.KindConflict, "email '%s' already registered", user.Email)
	}

	if err := s.createUser(ctx, user); err != nil {
		return err
	}

	if user.Role == models.RoleDelivery {
		partner := &models.DeliveryPartner{ID: user.ID, UpdatedAt: time.Now()}
		if err := s.partnerRepo.Create(ctx, partner); err != nil {
			// Without a profile the account could never take orders, so undo it.
			if delErr := s.userRepo.Delete(ctx, user.ID); delErr != nil {
				s.logger.ErrorContext(ctx, "failed to remove user after delivery profile error", "user_id", user.ID, "error", delErr)
			}
			return fmt.Errorf("failed to create delivery profile: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return nil
}

// EnsureAdmin creates the admin account if no user holds username yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		s.logger.Warn("admin credentials not configured, skipping admin seed")
		return nil
	}
	if _, err := s.userRepo.GetByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	admin := &models.User{
		Username: username,
		Email:    username + "@admin.local",
		Password: password,
		Role:     models.RoleAdmin,
	}
	if err := s.createUser(ctx, admin); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin account created", "username", username)
	return nil
}

func (s *AuthService) createUser(ctx context.Context, user *models.User) error {
	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = string(hashedPassword) // Store the hashed password
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// LoginUser authenticates a user and returns a JWT token if successful.
func (s *AuthService) LoginUser(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return "", nil, err
		}
		return "", nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}

	// Compare the provided password with the hashed password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      now.Add(s.tokenTTL).Unix(), // Token expiration time
		"iat":      now.Unix(),                 // Issued at time
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, user, nil
}

// TokenTTL is how long issued tokens stay valid.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// Expired tokens yield an error wrapping ErrTokenExpired.
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the alg is what we expect:
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, apperr.Wrap(apperr.KindUnauthenticated, ErrTokenExpired, "invalid token")
		}
		s.logger.Debug("token validation failed", "error", err)
		return nil, apperr.Wrap(apperr.KindUnauthenticated, err, "invalid token")
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, apperr.New(apperr.KindUnauthenticated, "invalid token")
}

// ResolvePrincipal validates the token and loads the current state of its
// subject, so role and approval changes apply without re-login.
func (s *AuthService) ResolvePrincipal(ctx context.Context, tokenString string) (*models.Principal, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, "invalid token")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.KindUnauthenticated, "account no longer exists")
		}
		return nil, err
	}

	principal := &models.Principal{
		ID:       user.ID,
		Username: user.Username,
		Role:     user.Role,
		Approved: true,
		Active:   true,
	}
	if user.Role == models.RoleDelivery {
		partner, err := s.partnerRepo.GetByID(ctx, user.ID)
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				return nil, err
			}
			principal.Approved, principal.Active = false, false
		} else {
			principal.Approved, principal.Active = partner.IsApproved, partner.IsActive
		}
	}
	return principal, nil
}
