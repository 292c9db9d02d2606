package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"

	"github.com/cuemby/jstorage/pkg/jserr"
	"golang.org/x/crypto/argon2"
)

// magic is the fixed 4-byte prefix identifying JS2-encoded ciphertext.
var magic = [4]byte{'J', 'S', '2', 0}

const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32 // AES-256
	argonTime  = 1
	argonMemKB = 64 * 1024
	argonLanes = 4
)

// CryptTool is a password-bound AEAD cipher for shard and cache files. It
// must be initialised with a password (via Init or InitInteractive) before
// Encode/Decode can be used; operations performed before initialisation,
// or after a failed password verification, return CryptNotReady.
type CryptTool struct {
	key  []byte // derived via Argon2id, nil until initialised
	salt []byte // persisted alongside the verifier so re-derivation is stable
}

// New returns an uninitialised CryptTool. Call Init or InitInteractive
// before Encode/Decode.
func New() *CryptTool {
	return &CryptTool{}
}

// deriveKey runs Argon2id over the password and salt to produce a 32-byte
// AES-256 key. Argon2id is memory-hard;
// scrypt is an equally valid substitute and would slot into this same
// function signature.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemKB, argonLanes, keySize)
}

// verifierFor returns a value derivable only from the correct key, stored instead
// of the password or key itself so a reload can detect a wrong password.
func verifierFor(key []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil
	}
	nonce := make([]byte, gcm.NonceSize())
	return gcm.Seal(nil, nonce, []byte("jstorage-verifier"), nil)
}

// Init derives the encryption key from password and a freshly generated
// salt, or — if salt/verifier are supplied from a prior run (reload) —
// re-derives the key and checks it against the stored verifier.
func Init(password string, salt, storedVerifier []byte) (*CryptTool, []byte, error) {
	if password == "" {
		return nil, nil, jserr.New(jserr.CryptNotReady, "password must not be empty")
	}
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, jserr.Wrap(jserr.CryptNotReady, err, "generate salt")
		}
	}
	key := deriveKey(password, salt)
	verifier := verifierFor(key)

	if storedVerifier != nil {
		if subtle.ConstantTimeCompare(verifier, storedVerifier) != 1 {
			return nil, nil, jserr.New(jserr.CryptNotReady, "password does not match stored verifier")
		}
	}

	return &CryptTool{key: key, salt: salt}, verifier, nil
}

// PromptFunc receives an operator-facing prompt string and returns the
// password the operator typed.
type PromptFunc func(prompt string) (string, error)

// InitInteractive prompts the operator for a password through promptFn and
// initialises the tool from the result.
func InitInteractive(promptFn PromptFunc, salt, storedVerifier []byte) (*CryptTool, []byte, error) {
	password, err := promptFn("JStorage encryption password: ")
	if err != nil {
		return nil, nil, jserr.Wrap(jserr.CryptNotReady, err, "read password")
	}
	return Init(password, salt, storedVerifier)
}

// Ready reports whether the tool has a usable key.
func (c *CryptTool) Ready() bool {
	return c != nil && len(c.key) == keySize
}

// Salt returns the salt the key was derived from, so a caller that just
// ran Init for the first time can persist it alongside the verifier for
// later re-derivation.
func (c *CryptTool) Salt() []byte {
	if c == nil {
		return nil
	}
	return c.salt
}

// Encode authenticates and encrypts plaintext, returning base64 text
// beginning with the JS2 magic prefix.
func (c *CryptTool) Encode(plaintext []byte) (string, error) {
	if !c.Ready() {
		return "", jserr.New(jserr.CryptNotReady, "crypt tool not initialised")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", jserr.Wrap(jserr.CryptFailed, err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", jserr.Wrap(jserr.CryptFailed, err, "create gcm")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", jserr.Wrap(jserr.CryptFailed, err, "generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	framed := make([]byte, 0, len(magic)+len(nonce)+len(sealed))
	framed = append(framed, magic[:]...)
	framed = append(framed, nonce...)
	framed = append(framed, sealed...)
	return base64.StdEncoding.EncodeToString(framed), nil
}

// IsEncoded reports whether line begins with the JS2 magic prefix once
// base64-decoded, allowing a reader to distinguish an encrypted line from
// a legacy plaintext one without per-file metadata.
func IsEncoded(line []byte) bool {
	decoded, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return false
	}
	return len(decoded) >= len(magic) && decoded[0] == magic[0] && decoded[1] == magic[1] && decoded[2] == magic[2] && decoded[3] == magic[3]
}

// Decode reverses Encode. Lines without the JS2 prefix are rejected; the
// caller (the shard/cache reader) is responsible for checking IsEncoded
// first and returning non-magic lines verbatim.
func (c *CryptTool) Decode(line []byte) ([]byte, error) {
	if !c.Ready() {
		return nil, jserr.New(jserr.CryptNotReady, "crypt tool not initialised")
	}
	decoded, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return nil, jserr.Wrap(jserr.CryptFailed, err, "base64 decode")
	}
	if len(decoded) < len(magic)+nonceSize {
		return nil, jserr.New(jserr.CryptFailed, "ciphertext too short")
	}
	if decoded[0] != magic[0] || decoded[1] != magic[1] || decoded[2] != magic[2] || decoded[3] != magic[3] {
		return nil, jserr.New(jserr.CryptFailed, "missing JS2 magic prefix")
	}

	rest := decoded[len(magic):]
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, jserr.Wrap(jserr.CryptFailed, err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, jserr.Wrap(jserr.CryptFailed, err, "create gcm")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, jserr.Wrap(jserr.CryptFailed, err, "authentication failed")
	}
	return plaintext, nil
}
