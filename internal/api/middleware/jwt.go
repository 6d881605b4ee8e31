package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TenantKey gin 上下文中租户 ID 的键。
const TenantKey = "tenantID"

// TenantClaims 外部平台签发的令牌声明。
type TenantClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// TenantAuth 校验 HS256 令牌并将租户 ID 写入上下文。
// 未携带 tenant_id 时使用 sub。
func TenantAuth(jwtSecret string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims := &TenantClaims{}
		token, err := parser.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		tenant := strings.TrimSpace(claims.TenantID)
		if tenant == "" {
			tenant = strings.TrimSpace(claims.Subject)
		}
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no tenant"})
			return
		}

		c.Set(TenantKey, tenant)
		c.Next()
	}
}

// TenantID 返回当前请求的租户。
func TenantID(c *gin.Context) string {
	return c.GetString(TenantKey)
}
