package apis

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// HTTPCredentials is what a client presents to a controller.
type HTTPCredentials struct {
	BaseURL  string `yaml:"url"`
	Username string
	Password string
}

func newRequest(method, path string, body io.Reader, credentials HTTPCredentials) (*http.Request, error) {
	req, err := http.NewRequest(method, credentials.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credentials.Username != "" && credentials.Password != "" {
		req.SetBasicAuth(credentials.Username, credentials.Password)
	}
	return req, nil
}

// Auth protects the operator endpoints. The password is stored as a bcrypt
// hash; an empty Username disables authentication.
type Auth struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

func (a Auth) Enabled() bool {
	return a.Username != ""
}

func (a Auth) Validate() error {
	if !a.Enabled() {
		return nil
	}
	if a.PasswordHash == "" {
		return errors.New("http.password_hash is required when http.username is set")
	}
	if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
		return errors.Wrap(err, "http.password_hash is not a bcrypt hash")
	}
	return nil
}

func (a Auth) check(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// Middleware rejects requests without valid basic auth credentials.
func (a Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.check(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="carcontroller"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "could not hash password")
	}
	return string(hash), nil
}
