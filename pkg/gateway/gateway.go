// Package gateway assembles the auth gateway: it builds the IdP provider,
// the JWKS cache, the token manager, the rate limiter and the audit store
// from one Config, and mounts every auth endpoint on a ServeMux.
package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/encryption"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/jwks"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/callback"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/refresh"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/session"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/signin"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/signout"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/userinfo"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/validate"
	"github.com/srobinson/alphab-auth-gateway/pkg/providers"
	"github.com/srobinson/alphab-auth-gateway/pkg/ratelimit"
	"github.com/srobinson/alphab-auth-gateway/pkg/tokens"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// rateLimitWindow is the sliding window the per-IP limiter operates on.
const rateLimitWindow = time.Minute

type Gateway struct {
	config       *types.Config
	provider     *providers.OIDCProvider
	tokenManager *tokens.Manager
	rateLimiter  *ratelimit.RateLimiter
	auditStore   *audit.Store
	sink         audit.Sink

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGateway builds a gateway from a loaded config. Derivation and
// validation happen here so embedders can pass a bare Config.
func NewGateway(config *types.Config) (*Gateway, error) {
	config.Derive()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Log database configuration
	if config.DatabaseDSN == "" {
		log.Println("DATABASE_DSN not set, using SQLite database at data/auth_gateway.db")
	} else if strings.HasPrefix(config.DatabaseDSN, "postgres://") || strings.HasPrefix(config.DatabaseDSN, "postgresql://") {
		log.Println("Using PostgreSQL database")
	} else {
		log.Printf("Using SQLite database at: %s", config.DatabaseDSN)
	}

	var cipher *encryption.Cipher
	if config.EncryptionKey != "" {
		var err error
		cipher, err = encryption.NewCipher(config.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
	}

	auditStore, err := audit.NewStore(config.DatabaseDSN, cipher, config.AuditRetentionDays)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	provider := providers.NewOIDCProvider(config)
	keys := jwks.New(config.JwksURI, jwks.DefaultTTL, provider.HTTPClient())
	tokenManager := tokens.NewManager(config, keys, provider)

	var rateLimiter *ratelimit.RateLimiter
	if config.RateLimitEnabled {
		rateLimiter = ratelimit.NewRateLimiter(rateLimitWindow, config.RateLimitPerMinute)
	}

	return &Gateway{
		config:       config,
		provider:     provider,
		tokenManager: tokenManager,
		rateLimiter:  rateLimiter,
		auditStore:   auditStore,
		sink:         audit.MultiSink(audit.LogSink{}, auditStore),
	}, nil
}

// Start launches the audit retention loop. It owns a child context so Close
// can stop the loop without cancelling the caller's.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.auditStore.Start(g.ctx)
	return nil
}

func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.auditStore != nil {
		return g.auditStore.Close()
	}
	return nil
}

func (g *Gateway) SetupRoutes(mux *http.ServeMux) {
	signinHandler := signin.NewHandler(g.provider, g.config, g.sink)
	callbackHandler := callback.NewHandler(g.provider, g.config, g.sink)
	signoutHandler := signout.NewHandler(g.tokenManager, g.config, g.sink)
	refreshHandler := refresh.NewHandler(g.provider, g.sink)
	userinfoHandler := userinfo.NewHandler(g.provider)
	sessionHandler := session.NewHandler(g.tokenManager)
	tokenValidator := validate.NewTokenValidator(g.tokenManager)

	prefix := g.config.RoutePrefix

	mux.HandleFunc("GET /health", g.withCORS(g.healthHandler))

	// Browser-facing flow endpoints
	mux.HandleFunc("GET "+prefix+"/signin", g.withCORS(g.withRateLimit(signinHandler)))
	mux.HandleFunc("GET "+prefix+"/callback", g.withCORS(g.withRateLimit(callbackHandler)))
	mux.HandleFunc("GET "+prefix+"/signout", g.withCORS(g.withRateLimit(signoutHandler)))

	// Bearer-protected endpoints
	mux.HandleFunc("GET "+prefix+"/refresh", g.withCORS(g.withRateLimit(tokenValidator.WithTokenValidation(refreshHandler.ServeHTTP))))
	mux.HandleFunc("GET "+prefix+"/me", g.withCORS(g.withRateLimit(tokenValidator.WithTokenValidation(userinfoHandler.ServeHTTP))))

	// Session probes; these answer 200 whether or not a token is present
	mux.HandleFunc("GET "+prefix+"/session", g.withCORS(g.withRateLimit(http.HandlerFunc(sessionHandler.Session))))
	mux.HandleFunc("GET "+prefix+"/token", g.withCORS(g.withRateLimit(http.HandlerFunc(sessionHandler.Token))))
	mux.HandleFunc("GET "+prefix+"/validate-token", g.withCORS(g.withRateLimit(http.HandlerFunc(sessionHandler.ValidateToken))))

	// Preflight responders. withCORS answers OPTIONS before the inner
	// handler runs.
	for _, path := range []string{"/signin", "/callback", "/signout", "/refresh", "/me", "/session", "/token", "/validate-token"} {
		mux.HandleFunc("OPTIONS "+prefix+path, g.withCORS(g.preflightHandler))
	}
}

// GetHandler returns the gateway's full HTTP handler with access logging.
func (g *Gateway) GetHandler() http.Handler {
	mux := http.NewServeMux()
	g.SetupRoutes(mux)

	return handlers.LoggingHandler(os.Stdout, mux)
}

// withCORS wraps a handler with origin-aware CORS headers. Only configured
// frontend origins are echoed back; credentials are allowed because the
// frontend sends cookies on the auth flow.
func (g *Gateway) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); g.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Refresh-Token")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(time.Hour.Seconds())))

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (g *Gateway) allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range g.config.FrontendOrigins {
		if strings.TrimRight(allowed, "/") == origin {
			return true
		}
	}
	return false
}

// withRateLimit wraps a handler with the per-IP limiter. A nil limiter
// (rate limiting disabled) passes everything through.
func (g *Gateway) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !g.rateLimiter.Allow(clientIP) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rateLimitWindow.Seconds())))
				handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
					Error:            "too_many_requests",
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) preflightHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// LoadConfigFromEnv reads the whole config surface from the environment.
// The CLI covers the same variables through flags; this entry point exists
// for embedding the gateway in another process.
func LoadConfigFromEnv() (*types.Config, error) {
	config := &types.Config{
		Port:          os.Getenv("PORT"),
		RoutePrefix:   os.Getenv("ROUTE_PREFIX"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		Endpoint:      os.Getenv("OIDC_ENDPOINT"),
		AppID:         os.Getenv("OIDC_APP_ID"),
		AppSecret:     os.Getenv("OIDC_APP_SECRET"),
		RedirectURI:   os.Getenv("OIDC_REDIRECT_URI"),
		Resource:      os.Getenv("OIDC_RESOURCE"),
		JWTSecretKey:  os.Getenv("JWT_SECRET_KEY"),
		JWTAlgorithm:  os.Getenv("JWT_ALGORITHM"),

		FrontendOrigins:  ParseOrigins(os.Getenv("FRONTEND_ORIGINS")),
		RateLimitEnabled: true,
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ENABLED: %w", err)
		}
		config.RateLimitEnabled = enabled
	}
	for _, v := range []struct {
		name   string
		target *int
	}{
		{"ACCESS_TOKEN_EXPIRE_MINUTES", &config.AccessTokenExpireMinutes},
		{"RATE_LIMIT_PER_MINUTE", &config.RateLimitPerMinute},
		{"AUDIT_RETENTION_DAYS", &config.AuditRetentionDays},
	} {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.name, err)
		}
		*v.target = n
	}

	config.Derive()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseOrigins parses a comma-separated origins string and trims whitespace
// from each origin.
func ParseOrigins(envOrigins string) []string {
	originsRaw := strings.Split(envOrigins, ",")
	origins := make([]string, 0, len(originsRaw))
	for _, origin := range originsRaw {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, strings.TrimRight(trimmed, "/"))
		}
	}
	return origins
}
