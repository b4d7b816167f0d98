package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/blockforge/auctionhouse/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit   = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	mutateLimit = rate.Limit(60.0 / 60.0)  // 60 requests per minute
	browseLimit = rate.Limit(600.0 / 60.0) // 600 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(method, path, playerID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := playerID + ":" + method + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case method == "GET":
			limit = browseLimit
		case strings.HasPrefix(path, "/api/v1/listings"):
			limit = mutateLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles per player (or client IP before authentication)
// with separate budgets for auth, browsing and mutating endpoints.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetString("playerID")
		if playerID == "" {
			playerID = c.ClientIP()
		}

		limiter := getLimiter(c.Request.Method, c.FullPath(), playerID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and puts the player identity into
// the request context: playerID, displayName, tier, permissions.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, secret)
		if err != nil {
			// parseToken already wrote the response
			return
		}

		playerID, _ := claims["player_id"].(string)
		if playerID == "" {
			response.Unauthorized(c, "Missing player identity in token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("playerID", playerID)
		if name, ok := claims["display_name"].(string); ok {
			c.Set("displayName", name)
		}
		if tier, ok := claims["tier"].(string); ok {
			c.Set("tier", tier)
		}
		c.Set("permissions", permissionsFromClaims(claims))

		c.Next()
	}
}

// InternalAuth protects operator endpoints (bans, account provisioning).
// Internal callers present the same bearer token format but must hold
// the admin permission.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseToken(c, secret)
		if err != nil {
			return
		}

		perms := permissionsFromClaims(claims)
		admin := false
		for _, p := range perms {
			if p == "ah.admin" {
				admin = true
				break
			}
		}
		if !admin {
			response.Forbidden(c, "Admin permission required")
			c.Abort()
			return
		}

		if playerID, ok := claims["player_id"].(string); ok {
			c.Set("playerID", playerID)
		}
		c.Set("permissions", perms)
		c.Next()
	}
}

func parseToken(c *gin.Context, secret string) (jwt.MapClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

func permissionsFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["permissions"].([]interface{})
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			perms = append(perms, s)
		}
	}
	return perms
}
