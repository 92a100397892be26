package fs

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// ErrWrongPassphrase is returned when a sealed file cannot be opened
var ErrWrongPassphrase = errors.New("credentials file could not be unsealed: wrong passphrase or corrupt file")

// ErrNotSealed is returned when a passphrase is configured but the file on
// disk is plain JSON
var ErrNotSealed = errors.New("credentials file is not sealed")

const sealVersion = 1

// scrypt parameters for key derivation
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	saltSize     = 16
	nonceSize    = 24
	secretKeyLen = 32
)

// sealedFile is the on-disk envelope of a sealed credentials file
type sealedFile struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Box     []byte `json:"box"`
}

// sealer encrypts the credentials file with a key derived from a passphrase.
// The derived key is cached per salt.
type sealer struct {
	passphrase []byte
	salt       []byte
	key        *[secretKeyLen]byte
}

func newSealer(passphrase string) *sealer {
	return &sealer{passphrase: []byte(passphrase)}
}

func (s *sealer) keyFor(salt []byte) (*[secretKeyLen]byte, error) {
	if s.key != nil && bytes.Equal(s.salt, salt) {
		return s.key, nil
	}
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, secretKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	key := new([secretKeyLen]byte)
	copy(key[:], derived)
	s.salt = append([]byte(nil), salt...)
	s.key = key
	return key, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	salt := s.salt
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	key, err := s.keyFor(salt)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return json.MarshalIndent(sealedFile{
		Version: sealVersion,
		Salt:    salt,
		Nonce:   nonce[:],
		Box:     secretbox.Seal(nil, plain, &nonce, key),
	}, "", "  ")
}

func (s *sealer) open(data []byte) ([]byte, error) {
	var env sealedFile
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if env.Version == 0 {
		return nil, ErrNotSealed
	}
	if env.Version != sealVersion {
		return nil, fmt.Errorf("unsupported credentials file version %d", env.Version)
	}
	if len(env.Nonce) != nonceSize || len(env.Salt) == 0 {
		return nil, ErrWrongPassphrase
	}

	key, err := s.keyFor(env.Salt)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], env.Nonce)

	plain, ok := secretbox.Open(nil, env.Box, &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
