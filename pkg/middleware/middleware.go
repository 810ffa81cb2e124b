package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/pkg/response"
	"golang.org/x/time/rate"
)

// Authenticator resolves a bearer token to a user ID
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and route group
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	authLimit    rate.Limit
	orderLimit   rate.Limit
	defaultLimit rate.Limit
	burst        int
}

// NewRateLimiter configures limits per endpoint type
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors:     make(map[string]*visitor),
		authLimit:    rate.Limit(10.0 / 60.0),   // 10 requests per minute
		orderLimit:   rate.Limit(600.0 / 60.0),  // 600 requests per minute
		defaultLimit: rate.Limit(1200.0 / 60.0), // 1200 requests per minute
		burst:        5,
	}
}

func (rl *RateLimiter) limiterFor(path, client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := client + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = rl.authLimit
		case strings.HasPrefix(path, "/api/v1/orders"):
			limit = rl.orderLimit
		case strings.HasPrefix(path, "/api/v1/internal"):
			limit = rate.Inf
		default:
			limit = rl.defaultLimit
		}

		v = &visitor{limiter: rate.NewLimiter(limit, rl.burst)}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup forgets clients not seen for maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > maxIdle {
			delete(rl.visitors, key)
		}
	}
}

// StartCleanup drops idle clients every minute until ctx is cancelled
func (rl *RateLimiter) StartCleanup(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Cleanup(3 * time.Minute)
		}
	}
}

// Middleware returns the gin handler enforcing the limits
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.GetString("userID")
		if client == "" {
			client = c.ClientIP()
		}

		if !rl.limiterFor(c.FullPath(), client).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth requires a bearer token and stores the caller's user ID under "userID"
func JWTAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		userID, err := auth.Authenticate(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// InternalAuth guards routes meant for trusted collaborators such as a price feed
func InternalAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Internal-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			response.Unauthorized(c, "Internal key required")
			c.Abort()
			return
		}
		c.Next()
	}
}
