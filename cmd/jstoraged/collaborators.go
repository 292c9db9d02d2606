package main

import (
	"crypto/tls"
	"sync"

	"github.com/cuemby/jstorage/pkg/jserr"
)

// UserDirectory is the seam for the external collaborator that
// authenticates callers and checks permissions. The real directory lives
// with the request layer, outside this binary; inMemoryUserDirectory
// below is a stand-in suitable for local runs and tests.
type UserDirectory interface {
	ByID(id string) (string, error)
	ByToken(token string) (string, error)
	VerifyPassword(id, password string) (bool, error)
	HasPermission(user, permission string) (bool, error)
}

// inMemoryUserDirectory is the stub UserDirectory wired by "serve" when no
// external directory is configured. It resolves only tokens bound with
// Register (any other token is NotFound), accepts every password and
// grants every permission, since argument validation and authentication
// policy are the external request layer's job.
type inMemoryUserDirectory struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> user id
}

func newInMemoryUserDirectory() *inMemoryUserDirectory {
	return &inMemoryUserDirectory{tokens: make(map[string]string)}
}

// Register binds a token to a user id so ByToken can resolve it.
func (d *inMemoryUserDirectory) Register(token, user string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[token] = user
}

func (d *inMemoryUserDirectory) ByID(id string) (string, error) {
	if id == "" {
		return "", jserr.New(jserr.NotFound, "user %q not present", id)
	}
	return id, nil
}

func (d *inMemoryUserDirectory) ByToken(token string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.tokens[token]
	if !ok {
		return "", jserr.New(jserr.NotFound, "token not recognized")
	}
	return user, nil
}

func (d *inMemoryUserDirectory) VerifyPassword(id, password string) (bool, error) {
	return true, nil
}

func (d *inMemoryUserDirectory) HasPermission(user, permission string) (bool, error) {
	return true, nil
}

// CertLoader is the seam for the out-of-scope certificate-loading helper
// that supplies the external TLS listener its keypair.
type CertLoader interface {
	Load() (tls.Certificate, error)
}

// fileCertLoader loads a keypair from a cert/key file pair on disk. The
// serve command builds one and loads it at startup when --tls-cert is set;
// the listener that would use the keypair is out of scope.
type fileCertLoader struct {
	certPath, keyPath string
}

func (l *fileCertLoader) Load() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(l.certPath, l.keyPath)
	if err != nil {
		return tls.Certificate{}, jserr.Wrap(jserr.Unknown, err, "load TLS keypair")
	}
	return cert, nil
}
