package deviceauth

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// Vault seals token sets to a file only this machine and user can read
// back. The key derives from a machine-bound secret plus a per-file
// random salt; the payload is XChaCha20-Poly1305, so any tampering fails
// the open instead of yielding garbage.
type Vault struct {
	path   string
	secret []byte
}

// vaultPayload is what gets sealed: the full token map plus which tenant
// was active.
type vaultPayload struct {
	Active string               `json:"active"`
	Tokens map[string]*tokenSet `json:"tokens"`
}

var vaultMagic = []byte("MSV1")

const (
	saltSize = 16
	// scrypt interactive parameters: ~30ms per derivation.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// NewVault creates a vault at path, bound to this host and user.
func NewVault(path string) *Vault {
	return &Vault{path: path, secret: machineSecret()}
}

// machineSecret is deliberately reproducible on the same machine and
// user: the vault protects against the file leaking, not against a local
// attacker with the same account.
func machineSecret() []byte {
	host, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	return []byte("meridian-sync|" + host + "|" + user)
}

// Save seals payload to disk, replacing any previous file atomically.
func (v *Vault) Save(payload *vaultPayload) error {
	plaintext, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	aead, err := v.aead(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := make([]byte, 0, len(vaultMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	sealed = append(sealed, vaultMagic...)
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = aead.Seal(sealed, nonce, plaintext, nil)

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}

// Load opens the sealed file. A missing file returns (nil, nil); a file
// sealed on another machine, by another user, or bit-flipped returns an
// error.
func (v *Vault) Load() (*vaultPayload, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	if len(data) < len(vaultMagic)+saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("token cache truncated")
	}
	if string(data[:len(vaultMagic)]) != string(vaultMagic) {
		return nil, fmt.Errorf("token cache format unrecognized")
	}
	data = data[len(vaultMagic):]
	salt, data := data[:saltSize], data[saltSize:]
	nonce, sealed := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]

	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal token cache: %w", err)
	}

	var payload vaultPayload
	if err := sonic.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("decode token cache: %w", err)
	}
	return &payload, nil
}

// Clear removes the sealed file.
func (v *Vault) Clear() error {
	err := os.Remove(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.secret, salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive cache key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}
