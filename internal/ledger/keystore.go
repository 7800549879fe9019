package ledger

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

// KeyStoreEntry is one encrypted signing key on disk.
type KeyStoreEntry struct {
	Address      string `json:"address"`
	EncryptedKey string `json:"encrypted_key"`
	Version      int    `json:"version"`
}

// KeyStore keeps the treasury and notary signing keys encrypted with AES-256-GCM.
type KeyStore struct {
	dir string
}

func NewKeyStore(dir string) *KeyStore {
	if dir == "" {
		dir = "configs/keystore"
	}
	return &KeyStore{dir: dir}
}

// Generate creates a new key and stores it under its address.
func (ks *KeyStore) Generate(password string) (solana.PrivateKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := ks.Save(key, password); err != nil {
		return nil, err
	}
	return key, nil
}

// Save writes key as <address>.json.
func (ks *KeyStore) Save(key solana.PrivateKey, password string) error {
	encrypted, err := Encrypt(key, password)
	if err != nil {
		return fmt.Errorf("failed to encrypt private key: %w", err)
	}
	entry := KeyStoreEntry{
		Address:      key.PublicKey().String(),
		EncryptedKey: encrypted,
		Version:      1,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore entry: %w", err)
	}
	if err := os.MkdirAll(ks.dir, 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return os.WriteFile(filepath.Join(ks.dir, entry.Address+".json"), data, 0600)
}

// Load decrypts the key stored for address.
func (ks *KeyStore) Load(address, password string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(ks.dir, address+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore entry: %w", err)
	}
	var entry KeyStoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}
	if entry.Address != address {
		return nil, fmt.Errorf("address mismatch: expected %s, got %s", address, entry.Address)
	}
	raw, err := Decrypt(entry.EncryptedKey, password)
	if err != nil {
		return nil, err
	}
	key := solana.PrivateKey(raw)
	if key.PublicKey().String() != address {
		return nil, fmt.Errorf("decrypted key does not match %s", address)
	}
	return key, nil
}

// ParseKey accepts either a base58 private key or "<address>" resolved
// through the keystore with password.
func (ks *KeyStore) ParseKey(value, password string) (solana.PrivateKey, error) {
	if key, err := solana.PrivateKeyFromBase58(value); err == nil && len(key) == 64 {
		return key, nil
	}
	return ks.Load(value, password)
}

// Encrypt seals plaintext with a key derived from password. The nonce is prepended.
func Encrypt(plaintext []byte, password string) (string, error) {
	gcm, err := newGCM(password)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded, password string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	gcm, err := newGCM(password)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(password string) (cipher.AEAD, error) {
	hash := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
