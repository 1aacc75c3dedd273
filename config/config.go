package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the service reads from the environment.
type Config struct {
	Port      string
	JWTSecret string

	DB DBConfig

	// SweepInterval is how often the expiry sweeper runs.
	SweepInterval time.Duration
	// ContractTTL is the default payment deadline for new contracts.
	ContractTTL time.Duration

	Gateway GatewayConfig

	// DocumentDir is where generated deposit receipts are written.
	DocumentDir string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the postgres connection string for gorm.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GatewayConfig holds per-channel webhook secrets and the static account
// details rendered into payment instructions.
type GatewayConfig struct {
	WalletSecret string
	CardSecret   string
	BankSecret   string

	WalletMerchantID string
	CardCheckoutURL  string
	BankName         string
	BankAccountNo    string
	BankAccountName  string
}

// Load reads the environment, with a best-effort .env load first.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8000"),
		JWTSecret: getEnv("JWT_SECRET", "zaprent-dev-secret"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "zaprent"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SweepInterval: time.Duration(getEnvPositiveInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		ContractTTL:   time.Duration(getEnvPositiveInt("CONTRACT_TTL_MINUTES", 1440)) * time.Minute,
		Gateway: GatewayConfig{
			WalletSecret:     getEnv("WALLET_WEBHOOK_SECRET", ""),
			CardSecret:       getEnv("CARD_WEBHOOK_SECRET", ""),
			BankSecret:       getEnv("BANK_WEBHOOK_SECRET", ""),
			WalletMerchantID: getEnv("WALLET_MERCHANT_ID", "ZAPRENT"),
			CardCheckoutURL:  getEnv("CARD_CHECKOUT_URL", "https://pay.zaprent.example/card/checkout"),
			BankName:         getEnv("BANK_NAME", "Bank Central"),
			BankAccountNo:    getEnv("BANK_ACCOUNT_NO", "8880012345678"),
			BankAccountName:  getEnv("BANK_ACCOUNT_NAME", "PT ZapRent Escrow"),
		},
		DocumentDir: getEnv("DOCUMENT_DIR", "documents"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvPositiveInt falls back for zero or negative values too; the
// durations built from these feed time.NewTicker, which panics on a
// non-positive interval.
func getEnvPositiveInt(key string, fallback int) int {
	if i := getEnvInt(key, fallback); i > 0 {
		return i
	}
	return fallback
}
