// Command facilitator runs the standalone payment relay (C4): it accepts
// signed authorizations at POST /pay, settles them on-chain, and replays
// the original request to the seller once settled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/x402gw/core/internal/authtoken"
	"github.com/x402gw/core/internal/chain/evm"
	"github.com/x402gw/core/internal/envconfig"
	"github.com/x402gw/core/internal/facilitator"
	"github.com/x402gw/core/internal/store"
)

type config struct {
	Port           int
	RPCURL         string
	ChainID        *big.Int
	ExecutorKey    string
	StoreSecret    string
	JWTSecret      []byte
	TokenExpiry    time.Duration
	Confirmations  uint64
	ConfirmTimeout time.Duration
}

func loadConfig() (config, error) {
	envconfig.LoadDotenv()

	chainID := new(big.Int)
	if _, ok := chainID.SetString(envconfig.String("CHAIN_ID", "84532"), 10); !ok {
		return config{}, fmt.Errorf("CHAIN_ID must be a decimal integer")
	}

	executorKey := envconfig.String("EXECUTOR_PRIVATE_KEY", "")
	if executorKey == "" {
		return config{}, fmt.Errorf("EXECUTOR_PRIVATE_KEY is required")
	}
	storeSecret := envconfig.String("STORE_SECRET", "")
	if storeSecret == "" {
		return config{}, fmt.Errorf("STORE_SECRET is required")
	}
	jwtSecret := envconfig.String("JWT_SECRET", "")
	if len(jwtSecret) < 32 {
		return config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	return config{
		Port:           envconfig.Int("PORT", 8402),
		RPCURL:         envconfig.String("SETTLEMENT_RPC_URL", "https://sepolia.base.org"),
		ChainID:        chainID,
		ExecutorKey:    executorKey,
		StoreSecret:    storeSecret,
		JWTSecret:      []byte(jwtSecret),
		TokenExpiry:    envconfig.Duration("TOKEN_EXPIRY", 24*time.Hour),
		Confirmations:  uint64(envconfig.Int("CONFIRMATIONS", 2)),
		ConfirmTimeout: envconfig.Duration("CONFIRM_TIMEOUT", 60*time.Second),
	}, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	transferer, err := evm.NewTransferer(cfg.RPCURL, cfg.ExecutorKey, cfg.ChainID)
	if err != nil {
		slog.Error("failed to init executor wallet", "err", err)
		os.Exit(1)
	}

	docs := store.New(cfg.StoreSecret)
	svc := facilitator.New(facilitator.Config{
		Store:          docs,
		StoreSecret:    cfg.StoreSecret,
		Transferer:     transferer,
		Tokens:         authtoken.NewManager(cfg.JWTSecret, cfg.TokenExpiry),
		Confirmations:  cfg.Confirmations,
		ConfirmTimeout: cfg.ConfirmTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Recover(ctx, nil)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("facilitator starting", "addr", addr, "rpc", cfg.RPCURL, "chain_id", cfg.ChainID.String())
	if err := http.ListenAndServe(addr, svc.Routes()); err != nil {
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
