package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func readCredentials(email, password string, noPrompt bool) (string, string, error) {
	email = strings.TrimSpace(email)
	if email == "" && !noPrompt {
		email = promptLine("Email")
	}
	if password == "" && !noPrompt {
		p, err := promptSecret("Password")
		if err != nil {
			return "", "", err
		}
		password = p
	}
	if email == "" || password == "" {
		return "", "", errors.New("email and password are required")
	}
	return email, password, nil
}

func serverError(status int, body []byte) error {
	var out struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Error != "" {
		if out.Code != "" {
			return fmt.Errorf("%s (%d %s)", out.Error, status, out.Code)
		}
		return fmt.Errorf("%s (%d)", out.Error, status)
	}
	return fmt.Errorf("error (%d): %s", status, strings.TrimSpace(string(body)))
}

func signupCmd(baseURL *string, ui *ui) *cobra.Command {
	var (
		email    string
		password string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, p, err := readCredentials(email, password, noPrompt)
			if err != nil {
				return err
			}
			c := newClient(*baseURL)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Creating account..."
			spin.Start()
			status, resp, err := c.request(cmd.Context(), http.MethodPost, "/api/auth/signup", "", map[string]string{"email": e, "password": p})
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return serverError(status, resp)
			}
			var out struct {
				Username  string `json:"username"`
				Confirmed bool   `json:"confirmed"`
			}
			_ = json.Unmarshal(resp, &out)
			fmt.Printf("%s Account created for %s\n", ui.ok("[OK]"), out.Username)
			if !out.Confirmed {
				fmt.Println(ui.dim("Check your inbox to confirm the address before signing in."))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func loginCmd(baseURL, profileName *string, ui *ui) *cobra.Command {
	var (
		email    string
		password string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store tokens in the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, p, err := readCredentials(email, password, noPrompt)
			if err != nil {
				return err
			}
			c := newClient(*baseURL)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Signing in..."
			spin.Start()
			status, resp, err := c.request(cmd.Context(), http.MethodPost, "/api/auth/login", "", map[string]string{"email": e, "password": p})
			spin.Stop()
			if err != nil {
				return err
			}
			if status == http.StatusForbidden {
				return errors.New("a new password is required; finish the reset flow before signing in")
			}
			if status >= 300 {
				return serverError(status, resp)
			}
			var out struct {
				IDToken      string `json:"idToken"`
				AccessToken  string `json:"accessToken"`
				RefreshToken string `json:"refreshToken"`
				ExpiresIn    int64  `json:"expiresIn"`
				UserID       string `json:"userId"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("decode login response: %w", err)
			}
			if out.IDToken == "" {
				return errors.New("login returned empty token")
			}

			s := &session{
				Email:        e,
				UserID:       out.UserID,
				IDToken:      out.IDToken,
				AccessToken:  out.AccessToken,
				RefreshToken: out.RefreshToken,
			}
			if out.ExpiresIn > 0 {
				s.ExpiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second).UTC().Truncate(time.Second)
			}
			st, err := openProfiles()
			if err != nil {
				return err
			}
			active, err := st.remember(*profileName, *baseURL, s)
			if err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
			fmt.Printf("%s Signed in as %s (profile '%s')\n", ui.ok("[OK]"), e, active)
			fmt.Printf("%s %s\n", ui.dim("id token:"), maskToken(out.IDToken))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func meCmd(baseURL, profileName *string, ui *ui) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the identity behind the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				stored, err := storedToken(*profileName)
				if err != nil {
					return err
				}
				token = stored
			}
			status, resp, err := newClient(*baseURL).request(cmd.Context(), http.MethodGet, "/api/auth/me", token, nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return serverError(status, resp)
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, resp, "", "  "); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Println(ui.info(pretty.String()))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (defaults to the profile id token)")
	return cmd
}
