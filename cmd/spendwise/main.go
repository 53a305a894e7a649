package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

const maxResponseBytes = 1 << 20

// request sends one JSON call to the auth service and returns the status
// and body. Non-2xx statuses are not errors here; callers decode them with
// serverError.
func (c *client) request(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "spendwise-cli")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, out, nil
}

func main() {
	baseURL := getenv("SPENDWISE_BASE_URL", "http://localhost:8080")
	profileName := getenv("SPENDWISE_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "spendwise",
		Short: "SpendWise auth CLI",
		Long:  "SpendWise auth CLI for signing in, inspecting key sets and verifying tokens.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL of the auth service")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		st, err := openProfiles()
		if err != nil {
			return err
		}
		active := st.name(profileName)
		prof := st.get(active)
		if !cmd.Flags().Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("SPENDWISE_BASE_URL")); v != "" {
				baseURL = v
			} else if prof.BaseURL != "" {
				baseURL = prof.BaseURL
			}
		}
		if profileName == "" && active != "" {
			profileName = active
		}
		return nil
	}

	root.AddCommand(signupCmd(&baseURL, ui))
	root.AddCommand(loginCmd(&baseURL, &profileName, ui))
	root.AddCommand(meCmd(&baseURL, &profileName, ui))
	root.AddCommand(jwksCmd(ui))
	root.AddCommand(verifyCmd(&profileName, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("spendwise")
	return fmt.Sprintf(`%s - CLI for SpendWise auth

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  spendwise signup --email you@example.com
  spendwise login --email you@example.com
  spendwise me
  spendwise jwks --region us-east-1 --user-pool-id us-east-1_AbCdEf
  spendwise verify --region us-east-1 --user-pool-id us-east-1_AbCdEf --client-id 4abc --file tokens.txt

`, title, profileStorePath())
}
