// Command agent drives one scripted paid HTTP call end-to-end through the
// C5 agent wallet: issue the request, evaluate policy, sign, settle
// through the facilitator, and print the origin's final response.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402gw/core/internal/envconfig"
	"github.com/x402gw/core/internal/store"
	"github.com/x402gw/core/internal/wallet"
)

type config struct {
	URL            string
	Method         string
	FacilitatorURL string
	SigningKey     string
	StoreSecret    string
	OrgName        string
	AgentName      string
	AgentChain     store.AgentChain
	Timeout        time.Duration
}

func loadConfig() config {
	envconfig.LoadDotenv()

	var method string
	flag.StringVar(&method, "method", "GET", "HTTP method for the target request")
	url := flag.String("url", "", "target URL of the paid endpoint (required)")
	flag.Parse()

	return config{
		URL:            *url,
		Method:         method,
		FacilitatorURL: envconfig.String("FACILITATOR_URL", "http://localhost:8402"),
		SigningKey:     envconfig.String("AGENT_PRIVATE_KEY", ""),
		StoreSecret:    envconfig.String("STORE_SECRET", "dev-secret"),
		OrgName:        envconfig.String("AGENT_ORG_NAME", "cli-agent-org"),
		AgentName:      envconfig.String("AGENT_NAME", "cli-agent"),
		AgentChain:     store.AgentChainBase,
		Timeout:        envconfig.Duration("REQUEST_TIMEOUT", 60*time.Second),
	}
}

func walletAddress(privateKeyHex string) (string, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return "", fmt.Errorf("invalid AGENT_PRIVATE_KEY: %w", err)
	}
	pub := key.Public().(*ecdsa.PublicKey)
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func trimHexPrefix(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	cfg := loadConfig()
	if cfg.URL == "" {
		slog.Error("-url is required")
		os.Exit(1)
	}
	if cfg.SigningKey == "" {
		slog.Error("AGENT_PRIVATE_KEY is required")
		os.Exit(1)
	}

	address, err := walletAddress(cfg.SigningKey)
	if err != nil {
		slog.Error("failed to derive wallet address", "err", err)
		os.Exit(1)
	}

	docs := store.New(cfg.StoreSecret)
	orgID, err := docs.PutOrganization(cfg.StoreSecret, "", store.Organization{Name: cfg.OrgName, APIKey: "dev-org-key", Plan: store.PlanFree})
	if err != nil {
		slog.Error("failed to register org", "err", err)
		os.Exit(1)
	}

	agentID, err := docs.PutAgent(cfg.StoreSecret, "", store.Agent{
		OrgID:  orgID,
		Name:   cfg.AgentName,
		Wallet: address,
		Chain:  cfg.AgentChain,
		Status: store.AgentActive,
	})
	if err != nil {
		slog.Error("failed to register agent", "err", err)
		os.Exit(1)
	}
	agent, _ := docs.Agents.Get(agentID)

	client := wallet.New(wallet.Config{
		Store:          docs,
		StoreSecret:    cfg.StoreSecret,
		FacilitatorURL: cfg.FacilitatorURL,
		SigningKey:     cfg.SigningKey,
	})

	req, err := http.NewRequest(cfg.Method, cfg.URL, nil)
	if err != nil {
		slog.Error("failed to build request", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	resp, err := client.Do(ctx, agent, req)
	if err != nil {
		slog.Error("paid request failed", "err", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	slog.Info("paid request completed", "status", resp.StatusCode)
	fmt.Println(string(body))
}

func logLevel() slog.Level {
	if os.Getenv("LOG_LEVEL") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
