package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"reset-service/internal/config"
)

var (
	ErrInvalidDigest = errors.New("invalid code digest format")
	ErrUnknownPepper = errors.New("pepper version not found")
	ErrNoPepper      = errors.New("no pepper configured")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// CodeDigest is the stored representation of an issued OTP code. The
// plaintext code is never persisted.
type CodeDigest struct {
	Hash          string
	Salt          string
	PepperVersion int
	Algorithm     string
}

// Hasher derives and verifies argon2id digests of OTP codes. Peppers are
// versioned and sourced from configuration so that every handler instance,
// and every restart, can verify records written by any other.
type Hasher struct {
	params         Argon2Params
	peppers        map[int]string
	currentVersion int
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	if len(cfg.Hashing.Peppers) == 0 {
		return nil, ErrNoPepper
	}
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		peppers:        cfg.Hashing.Peppers,
		currentVersion: cfg.CurrentPepperVersion(),
	}, nil
}

// HashCode digests an OTP code with a fresh salt and the current pepper.
func (h *Hasher) HashCode(code string) (*CodeDigest, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	pepper := h.peppers[h.currentVersion]
	hash := argon2.IDKey(
		[]byte(code+pepper+"reset-otp"),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &CodeDigest{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: h.currentVersion,
		Algorithm:     "argon2id-v1",
	}, nil
}

// VerifyCode recomputes the digest for a submitted code and compares it in
// constant time. A wrong code and a right code take the same time to reject
// or accept regardless of how many leading digits match.
func (h *Hasher) VerifyCode(code string, digest *CodeDigest) (bool, error) {
	pepper, ok := h.peppers[digest.PepperVersion]
	if !ok {
		return false, ErrUnknownPepper
	}

	salt, err := base64.RawURLEncoding.DecodeString(digest.Salt)
	if err != nil {
		return false, ErrInvalidDigest
	}
	expected, err := base64.RawURLEncoding.DecodeString(digest.Hash)
	if err != nil {
		return false, ErrInvalidDigest
	}
	if len(expected) == 0 {
		return false, ErrInvalidDigest
	}

	computed := argon2.IDKey(
		[]byte(code+pepper+"reset-otp"),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
