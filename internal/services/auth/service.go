// Package auth authenticates the two caller populations: human operators
// on the admin surface (JWT with refresh tokens) and machine callers on
// the routing surface (service keys, stored as bcrypt hashes).
package auth

import (
	"strings"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const serviceKeyPrefix = "csk"

type Service interface {
	Login(email, password, ip string) (*models.Operator, string, string, error)
	RefreshTokens(refreshToken string) (string, string, error)
	Logout(operatorID uint) error
	ChangePassword(operatorID uint, oldPassword, newPassword string) error
	CreateOperator(email, name, password, role string) (*models.Operator, error)

	CreateServiceKey(merchantID uint, label string) (string, *models.ServiceKey, error)
	VerifyServiceKey(key string) (*models.ServiceKey, error)
	RevokeServiceKey(id uint) error
}

type service struct {
	operators repositories.OperatorRepository
	keys      repositories.ServiceKeyRepository
	logger    zerolog.Logger
}

func NewService(operators repositories.OperatorRepository, keys repositories.ServiceKeyRepository, logger zerolog.Logger) Service {
	if operators == nil {
		panic("operator repository is required")
	}
	if keys == nil {
		panic("service key repository is required")
	}
	return &service{
		operators: operators,
		keys:      keys,
		logger:    logger,
	}
}

func (s *service) Login(email, password, ip string) (*models.Operator, string, string, error) {
	operator, err := s.operators.GetByEmail(email)
	if err != nil {
		s.logger.Warn().Str("email", email).Msg("login failed: operator not found")
		return nil, "", "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.Password), []byte(password)); err != nil {
		if err := s.operators.RecordFailedLogin(operator.ID); err != nil {
			s.logger.Error().Err(err).Uint("operator_id", operator.ID).Msg("record failed login")
		}
		s.logger.Warn().Uint("operator_id", operator.ID).Msg("login failed: wrong password")
		return nil, "", "", ErrInvalidCredentials
	}

	if operator.Status != models.OperatorStatusActive {
		return nil, "", "", ErrOperatorInactive
	}

	accessToken, refreshToken, err := utils.GenerateTokens(&models.OperatorClaims{
		OperatorID:   operator.ID,
		Email:        operator.Email,
		Role:         operator.Role,
		TokenVersion: operator.TokenVersion,
		Permissions:  models.GetDefaultPermissions(operator.Role),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("generate tokens")
		return nil, "", "", err
	}

	if err := s.operators.RecordLogin(operator.ID, ip); err != nil {
		s.logger.Error().Err(err).Uint("operator_id", operator.ID).Msg("record login")
	}

	return operator, accessToken, refreshToken, nil
}

func (s *service) RefreshTokens(refreshToken string) (string, string, error) {
	_, claims, err := utils.ParseToken(refreshToken)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	operator, err := s.operators.GetByID(claims.OperatorID)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	if operator.Status != models.OperatorStatusActive {
		return "", "", ErrOperatorInactive
	}

	// Logout and password changes bump the version, which strands every
	// refresh token issued before the bump.
	if operator.TokenVersion != claims.TokenVersion {
		return "", "", ErrInvalidToken
	}

	return utils.GenerateTokens(&models.OperatorClaims{
		OperatorID:   operator.ID,
		Email:        operator.Email,
		Role:         operator.Role,
		TokenVersion: operator.TokenVersion,
		Permissions:  models.GetDefaultPermissions(operator.Role),
	})
}

func (s *service) Logout(operatorID uint) error {
	return s.operators.IncrementTokenVersion(operatorID)
}

func (s *service) ChangePassword(operatorID uint, oldPassword, newPassword string) error {
	operator, err := s.operators.GetByID(operatorID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.Password), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	if len(newPassword) < 8 || !utils.HasSpecialChar(newPassword) {
		return ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	operator.Password = string(hashed)
	operator.TokenVersion++ // strand existing tokens

	return s.operators.Update(operator)
}

func (s *service) CreateOperator(email, name, password, role string) (*models.Operator, error) {
	switch role {
	case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
	default:
		return nil, ErrUnknownRole
	}
	if len(password) < 8 || !utils.HasSpecialChar(password) {
		return nil, ErrWeakPassword
	}
	if _, err := s.operators.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	operator := &models.Operator{
		Email:        email,
		Password:     string(hashed),
		Name:         name,
		Role:         role,
		Status:       models.OperatorStatusActive,
		TokenVersion: 1,
	}
	if err := s.operators.Create(operator); err != nil {
		return nil, err
	}

	s.logger.Info().Uint("operator_id", operator.ID).Str("role", role).Msg("operator created")
	return operator, nil
}

// CreateServiceKey mints a key for a merchant's integration and returns the
// plaintext exactly once; only the bcrypt hash of the secret is stored.
func (s *service) CreateServiceKey(merchantID uint, label string) (string, *models.ServiceKey, error) {
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	key := &models.ServiceKey{
		MerchantID: merchantID,
		Label:      label,
		Prefix:     prefix,
		KeyHash:    string(hash),
	}
	if err := s.keys.Create(key); err != nil {
		return "", nil, err
	}

	s.logger.Info().Uint("merchant_id", merchantID).Str("prefix", prefix).Msg("service key created")
	return serviceKeyPrefix + "_" + prefix + "_" + secret, key, nil
}

// VerifyServiceKey resolves a presented key to its record. The prefix is
// the lookup handle; the secret is checked against the stored hash.
func (s *service) VerifyServiceKey(key string) (*models.ServiceKey, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 || parts[0] != serviceKeyPrefix {
		return nil, ErrInvalidServiceKey
	}
	prefix, secret := parts[1], parts[2]

	record, err := s.keys.GetByPrefix(prefix)
	if err != nil {
		return nil, ErrInvalidServiceKey
	}
	if record.Revoked() {
		return nil, ErrServiceKeyRevoked
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.KeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidServiceKey
	}

	if err := s.keys.Touch(record.ID); err != nil {
		s.logger.Error().Err(err).Uint("key_id", record.ID).Msg("touch service key")
	}
	return record, nil
}

func (s *service) RevokeServiceKey(id uint) error {
	return s.keys.Revoke(id)
}
