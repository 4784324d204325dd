// Package auth guards the inspection API with a static bearer token and/or
// HTTP basic credentials checked against bcrypt hashes.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Method is the way a request authenticated.
type Method string

const (
	MethodToken Method = "token"
	MethodBasic Method = "basic"
)

// Config lists the accepted credentials. An empty Config disables auth.
type Config struct {
	Token string `toml:"token" yaml:"token,omitempty" mapstructure:"token"`
	Users []User `toml:"users" yaml:"users,omitempty" mapstructure:"users"`
}

// User is a basic-auth account. PasswordHash is a bcrypt hash as produced
// by HashPassword or `harness hash-password`.
type User struct {
	Name         string `toml:"name" yaml:"name" mapstructure:"name"`
	PasswordHash string `toml:"password_hash" yaml:"password_hash" mapstructure:"password_hash"`
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool { return c.Token != "" || len(c.Users) > 0 }

// Validate checks that every user has a name and a well-formed hash.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, u := range c.Users {
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("users[%d] requires name", i))
			continue
		}
		if seen[u.Name] {
			errs = append(errs, fmt.Errorf("user %s is defined twice", u.Name))
		}
		seen[u.Name] = true
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("user %s password_hash: %w", u.Name, err))
		}
	}
	return errors.Join(errs...)
}

// HashPassword returns the bcrypt hash of password. cost 0 uses bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Result describes a successful authentication.
type Result struct {
	Method   Method `json:"method"`
	Username string `json:"username,omitempty"`
}

// ErrUnauthorized is returned for missing or wrong credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator checks request credentials. Safe for concurrent use.
type Authenticator struct {
	token []byte
	users map[string][]byte
}

// New builds an Authenticator for c, or returns nil when c is empty.
func New(c Config) (*Authenticator, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	a := &Authenticator{users: make(map[string][]byte, len(c.Users))}
	if c.Token != "" {
		a.token = []byte(c.Token)
	}
	for _, u := range c.Users {
		a.users[u.Name] = []byte(u.PasswordHash)
	}
	return a, nil
}

// Authenticate checks the Authorization header of r.
func (a *Authenticator) Authenticate(r *http.Request) (Result, error) {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok && a.token != nil {
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(tok)), a.token) == 1 {
			return Result{Method: MethodToken}, nil
		}
		return Result{}, ErrUnauthorized
	}
	if name, pw, ok := r.BasicAuth(); ok {
		hash, known := a.users[name]
		if known && bcrypt.CompareHashAndPassword(hash, []byte(pw)) == nil {
			return Result{Method: MethodBasic, Username: name}, nil
		}
	}
	return Result{}, ErrUnauthorized
}

// Challenge is the WWW-Authenticate value sent with 401 answers.
func (a *Authenticator) Challenge() string {
	if len(a.users) > 0 {
		return `Basic realm="harness"`
	}
	return `Bearer realm="harness"`
}
