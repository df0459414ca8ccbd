package service

import (
	"fmt"
	"time"

	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
	}, nil
}

// Claims carry the phone number alongside the user id in Subject. FamilyID
// links every refresh token rotated from the same login.
type Claims struct {
	Phone    string `json:"phone"`
	Type     string `json:"type"`
	FamilyID string `json:"fid,omitempty"`
	jwt.RegisteredClaims
}

// IssuePair signs a new access/refresh pair. An empty familyID starts a new family.
// The refresh claims are returned so the caller can persist the jti.
func (s *JWTService) IssuePair(userID, phoneNumber, familyID string) (*models.TokenPair, *Claims, error) {
	if familyID == "" {
		familyID = uuid.New().String()
	}
	now := time.Now()

	accessClaims := s.newClaims(userID, phoneNumber, TokenTypeAccess, "", now, s.accessExpiry)
	accessToken, err := s.sign(accessClaims)
	if err != nil {
		return nil, nil, err
	}

	refreshClaims := s.newClaims(userID, phoneNumber, TokenTypeRefresh, familyID, now, s.refreshExpiry)
	refreshToken, err := s.sign(refreshClaims)
	if err != nil {
		return nil, nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, refreshClaims, nil
}

func (s *JWTService) newClaims(userID, phoneNumber, tokenType, familyID string, now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		Phone:    phoneNumber,
		Type:     tokenType,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", claims.Type).Error("Failed to sign token")
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// VerifyTokenType verifies the token and checks its type claim.
func (s *JWTService) VerifyTokenType(tokenString, tokenType string) (*Claims, error) {
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenType {
		return nil, fmt.Errorf("token is not a %s token", tokenType)
	}
	return claims, nil
}
