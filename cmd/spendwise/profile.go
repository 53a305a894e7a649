package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const defaultProfile = "default"

// session is what a successful login leaves behind.
type session struct {
	Email        string    `yaml:"email"`
	UserID       string    `yaml:"userId,omitempty"`
	IDToken      string    `yaml:"idToken"`
	AccessToken  string    `yaml:"accessToken,omitempty"`
	RefreshToken string    `yaml:"refreshToken,omitempty"`
	ExpiresAt    time.Time `yaml:"expiresAt,omitempty"`
}

func (s *session) expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type profile struct {
	BaseURL string   `yaml:"baseUrl,omitempty"`
	Session *session `yaml:"session,omitempty"`
}

// profileStore is the YAML file under ~/.spendwise. It holds refresh
// tokens, so it is written owner-only.
type profileStore struct {
	path     string
	Current  string             `yaml:"current,omitempty"`
	Profiles map[string]profile `yaml:"profiles"`
}

func profileStorePath() string {
	if dir := strings.TrimSpace(os.Getenv("SPENDWISE_CONFIG_DIR")); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".spendwise", "config.yaml")
	}
	return "spendwise.yaml"
}

func openProfiles() (*profileStore, error) {
	st := &profileStore{path: profileStorePath()}
	data, err := os.ReadFile(st.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read profiles: %w", err)
	default:
		if err := yaml.Unmarshal(data, st); err != nil {
			return nil, fmt.Errorf("parse %s: %w", st.path, err)
		}
	}
	if st.Profiles == nil {
		st.Profiles = map[string]profile{}
	}
	return st, nil
}

// name picks the profile: explicit flag, then SPENDWISE_PROFILE, then the
// stored current profile.
func (st *profileStore) name(flag string) string {
	for _, v := range []string{flag, os.Getenv("SPENDWISE_PROFILE"), st.Current} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return defaultProfile
}

func (st *profileStore) get(flag string) profile {
	return st.Profiles[st.name(flag)]
}

// remember stores a fresh session under the chosen profile and makes it
// current.
func (st *profileStore) remember(flag, baseURL string, s *session) (string, error) {
	name := st.name(flag)
	p := st.Profiles[name]
	p.BaseURL = baseURL
	p.Session = s
	st.Profiles[name] = p
	st.Current = name
	return name, st.save()
}

func (st *profileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(st.path, data, 0o600)
}

// storedToken returns the id token of the chosen profile, refusing one
// that has already expired so callers do not round-trip a dead token.
func storedToken(flag string) (string, error) {
	st, err := openProfiles()
	if err != nil {
		return "", err
	}
	s := st.get(flag).Session
	if s == nil || s.IDToken == "" {
		return "", errors.New("not signed in (run `spendwise login` or pass --token)")
	}
	if s.expired(time.Now()) {
		return "", fmt.Errorf("stored token for %s expired at %s, sign in again", s.Email, s.ExpiresAt.Local().Format(time.Kitchen))
	}
	return s.IDToken, nil
}

func promptLine(label string) string {
	fmt.Printf("%s: ", label)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

// promptSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		fmt.Println()
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func maskToken(v string) string {
	switch v = strings.TrimSpace(v); {
	case v == "":
		return "<unset>"
	case len(v) <= 12:
		return "****"
	}
	return v[:6] + "..." + v[len(v)-4:]
}
