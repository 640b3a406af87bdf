// Command sellergate runs an example paid origin: a toy joke endpoint
// fronted by the C3 seller gate middleware, demonstrating the full 402
// handshake against a standalone facilitator.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/x402gw/core/internal/envconfig"
	"github.com/x402gw/core/internal/feekernel"
	"github.com/x402gw/core/internal/ratelimit"
	"github.com/x402gw/core/internal/sellergate"
	"github.com/x402gw/core/internal/store"
)

type config struct {
	Port           int
	FacilitatorURL string
	SellerWallet   string
	Price          string
	Chains         []string
	FeeBps         int64
	PlatformWallet string
	AnalyticsURL   string
	StoreSecret    string
	RateLimit      int
	RedisAddr      string
}

func loadConfig() config {
	envconfig.LoadDotenv()
	return config{
		Port:           envconfig.Int("PORT", 8080),
		FacilitatorURL: envconfig.String("FACILITATOR_URL", "http://localhost:8402"),
		SellerWallet:   envconfig.String("SELLER_WALLET", ""),
		Price:          envconfig.String("PRICE", "0.005"),
		Chains:         envconfig.StringList("CHAINS"),
		FeeBps:         envconfig.Int64("PLATFORM_FEE_BPS", 300),
		PlatformWallet: envconfig.String("PLATFORM_WALLET", ""),
		AnalyticsURL:   envconfig.String("ANALYTICS_URL", ""),
		StoreSecret:    envconfig.String("STORE_SECRET", "dev-secret"),
		RateLimit:      envconfig.Int("RATE_LIMIT_PER_MINUTE", 120),
		RedisAddr:      envconfig.String("REDIS_ADDR", ""),
	}
}

// jokes is the origin's own handler, invoked only once the gate has
// verified payment and attached a receipt to the request context.
func jokes(w http.ResponseWriter, r *http.Request) {
	receipt, ok := sellergate.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing payment context", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"joke":   "Why did the agent pay for this joke? Because it was 402 funny not to.",
		"txHash": receipt.Receipt.TxHash,
	})
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	cfg := loadConfig()
	if cfg.SellerWallet == "" {
		slog.Error("SELLER_WALLET is required")
		os.Exit(1)
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = []string{"eip155:84532"}
	}

	docs := store.New(cfg.StoreSecret)
	seller := store.Seller{Name: "example-joke-api", Wallet: cfg.SellerWallet, APIKey: "dev-key"}
	sellerID, err := docs.PutSeller(cfg.StoreSecret, "", seller)
	if err != nil {
		slog.Error("failed to register seller", "err", err)
		os.Exit(1)
	}
	seller.ID = sellerID

	endpoint := store.Endpoint{
		SellerID: sellerID,
		Method:   "GET",
		Path:     "/api/joke",
		Price:    cfg.Price,
		Currency: "USDC",
		Chains:   cfg.Chains,
		Active:   true,
	}
	endpointID, err := docs.PutEndpoint(cfg.StoreSecret, "", endpoint)
	if err != nil {
		slog.Error("failed to register endpoint", "err", err)
		os.Exit(1)
	}
	endpoint.ID = endpointID

	var feeCfg *feekernel.Config
	if cfg.FeeBps > 0 && cfg.PlatformWallet != "" {
		feeCfg = &feekernel.Config{FeeBps: cfg.FeeBps, PlatformWallet: cfg.PlatformWallet}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("rate limiter primary backend: redis", "addr", cfg.RedisAddr)
	} else {
		slog.Info("rate limiter primary backend: none (fallback-only); set REDIS_ADDR to enable")
	}

	gate := sellergate.New(sellergate.Config{
		Store:          docs,
		StoreSecret:    cfg.StoreSecret,
		Limiter:        ratelimit.New(ratelimit.Config{Redis: redisClient}),
		FacilitatorURL: cfg.FacilitatorURL,
		Reporter:       sellergate.NewReporter(cfg.AnalyticsURL, nil),
		FeeConfig:      feeCfg,
		RateLimit:      cfg.RateLimit,
	}, seller, []store.Endpoint{endpoint})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/joke", jokes)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("seller gate starting", "addr", addr, "facilitator", cfg.FacilitatorURL, "price", cfg.Price)
	if err := http.ListenAndServe(addr, gate.Wrap(mux)); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("LOG_LEVEL") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
