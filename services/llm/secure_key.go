package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// minMlockLimitKB is the mlock budget we expect for holding API keys in
// locked memory. Keys are tiny; 64KB covers every enclave page.
const minMlockLimitKB = 64

var (
	// ErrKeyMissing indicates no API key was found in the environment or
	// the secrets mount.
	ErrKeyMissing = errors.New("api key not found")

	secureInitOnce sync.Once
)

// initSecureMemory performs one-time memguard setup and checks that the
// system allows enough locked memory for key storage.
func initSecureMemory() {
	secureInitOnce.Do(func() {
		memguard.CatchInterrupt()

		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			slog.Warn("Could not determine mlock limit", "error", err)
			return
		}
		if rlimit.Cur == unix.RLIM_INFINITY {
			return
		}
		if limitKB := int64(rlimit.Cur / 1024); limitKB < minMlockLimitKB {
			slog.Warn("mlock limit is low, key memory may not stay locked",
				"limit_kb", limitKB, "required_kb", minMlockLimitKB)
		}
	})
}

// SecureKey holds an API key in a memguard enclave so the plaintext is
// encrypted at rest in process memory and wiped after each use.
type SecureKey struct {
	enclave *memguard.Enclave
}

// NewSecureKey seals the given plaintext. The caller should drop its own
// copy immediately after.
func NewSecureKey(plaintext string) *SecureKey {
	initSecureMemory()
	return &SecureKey{enclave: memguard.NewEnclave([]byte(plaintext))}
}

// Use opens the enclave, hands the plaintext to fn, and destroys the
// unsealed buffer before returning.
func (k *SecureKey) Use(fn func(key string) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// LoadSecureKey reads an API key from the environment variable, falling
// back to the container secrets mount, and seals it.
//
// The load order matches deployment practice: env var for development,
// /run/secrets/<name> for Podman/Docker secrets in production.
func LoadSecureKey(envVar, secretName string) (*SecureKey, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return NewSecureKey(key), nil
	}

	secretPath := "/run/secrets/" + secretName
	if content, err := os.ReadFile(secretPath); err == nil {
		if key := strings.TrimSpace(string(content)); key != "" {
			slog.Info("Read API key from container secrets", "secret", secretName)
			return NewSecureKey(key), nil
		}
	}

	slog.Error("API key not set and secret not found",
		"env", envVar, "path", secretPath)
	return nil, fmt.Errorf("%w: set %s or mount %s", ErrKeyMissing, envVar, secretPath)
}
