package api

import (
	"crypto"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessToken 代表簽發給帳戶的存取憑證內容
type AccessToken struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func ParseAndValidateJWT(tokenString string, secret crypto.Signer) (*AccessToken, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &AccessToken{}, func(token *jwt.Token) (interface{}, error) {
		return secret.Public(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*AccessToken)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// IssueJWT 為指定帳戶簽發存取憑證
func IssueJWT(account uuid.UUID, name string, config AuthConfig) (string, error) {
	const op = "IssueJWT"
	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, AccessToken{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    config.Issuer,
			Subject:   account.String(),
			ID:        uuid.NewString(),
			Audience:  []string{config.Audience},
		},
	})
	tokenString, err := token.SignedString(config.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign JWT, err=%w", op, err)
	}
	return tokenString, nil
}

// extractAccessToken 從cookie或Authorization標頭取出存取憑證
func extractAccessToken(c *gin.Context) (string, bool) {
	if cookie, err := c.Cookie("access_token"); err == nil && cookie != "" {
		return cookie, true
	}
	authorization := c.GetHeader("Authorization")
	if tokenString, ok := strings.CutPrefix(authorization, "Bearer "); ok && tokenString != "" {
		return tokenString, true
	}
	return "", false
}
