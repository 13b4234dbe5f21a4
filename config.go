package mediavault

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config contains configuration for vaults and their index stores
type Config struct {
	// Cipher suite used for new vaults. Existing vaults keep the suite
	// recorded in their verifier.
	Cipher CipherSuite

	// KDF is the Argon2id cost. It must match the cost a vault was created
	// with; a mismatch is rejected on open.
	KDF Argon2idParams

	// ChunkSize for content streams
	ChunkSize int

	// Parallel controls Vault.Verify
	Parallel ParallelConfig

	// Names generates physical names. Nil uses crypto/rand.
	Names NameGenerator

	// Logger receives structured events. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Cipher:    CipherAES256GCM,
		KDF:       DefaultArgon2idParams(),
		ChunkSize: DefaultChunkSize,
		Parallel:  DefaultParallelConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return NewValidationError("config", nil, "config cannot be nil")
	}
	if !c.Cipher.Valid() {
		return NewValidationError("cipher", c.Cipher, "unsupported cipher suite")
	}
	if err := c.KDF.Validate(); err != nil {
		return err
	}
	if err := ValidateChunkSize(c.ChunkSize); err != nil {
		return err
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ValidationError{Field: "parallel", Message: err.Error(), Err: err}
	}
	return nil
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

func (c *Config) names() NameGenerator {
	if c.Names == nil {
		return RandomNameGenerator{}
	}
	return c.Names
}

// envConfig mirrors the environment variables understood by ConfigFromEnv.
type envConfig struct {
	Cipher         CipherSuite `env:"CIPHER" envDefault:"aes-256-gcm"`
	ChunkSize      int         `env:"CHUNK_SIZE" envDefault:"65536"`
	KDFMemoryKiB   uint32      `env:"KDF_MEMORY_KIB" envDefault:"65536"`
	KDFIterations  uint32      `env:"KDF_ITERATIONS" envDefault:"3"`
	KDFParallelism uint8       `env:"KDF_PARALLELISM" envDefault:"4"`
	VerifyWorkers  int         `env:"VERIFY_WORKERS" envDefault:"0"`
	LogLevel       string      `env:"LOG_LEVEL" envDefault:"info"`
}

// EnvPrefix is the prefix of every environment variable read by ConfigFromEnv.
const EnvPrefix = "MEDIAVAULT_"

// ConfigFromEnv builds a Config from MEDIAVAULT_* environment variables on top
// of DefaultConfig. The returned level is the parsed MEDIAVAULT_LOG_LEVEL.
func ConfigFromEnv() (Config, zerolog.Level, error) {
	var ec envConfig
	if err := env.ParseWithOptions(&ec, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, zerolog.NoLevel, fmt.Errorf("failed to parse environment: %w", err)
	}

	level, err := zerolog.ParseLevel(ec.LogLevel)
	if err != nil {
		return Config{}, zerolog.NoLevel, &ValidationError{Field: "logLevel", Value: ec.LogLevel, Message: "unknown log level", Err: err}
	}

	cfg := DefaultConfig()
	cfg.Cipher = ec.Cipher
	cfg.ChunkSize = ec.ChunkSize
	cfg.KDF = Argon2idParams{
		Memory:      ec.KDFMemoryKiB,
		Iterations:  ec.KDFIterations,
		Parallelism: ec.KDFParallelism,
	}
	if ec.VerifyWorkers > 0 {
		cfg.Parallel.MaxWorkers = ec.VerifyWorkers
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, zerolog.NoLevel, err
	}
	return cfg, level, nil
}

// NewConsoleLogger returns a human-readable logger on stderr.
func NewConsoleLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
