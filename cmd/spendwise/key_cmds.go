package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/jwks"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
)

// providerFlags locate a key set either directly or through a Cognito
// user pool.
type providerFlags struct {
	jwksURL    string
	issuer     string
	audience   string
	region     string
	userPoolID string
	clientID   string
	skew       int
}

func (f *providerFlags) register(cmd *cobra.Command, withPolicy bool) {
	cmd.Flags().StringVar(&f.jwksURL, "jwks-url", getenv("COGNITO_JWKS_URL", ""), "JWKS URL (overrides the Cognito URL)")
	cmd.Flags().StringVar(&f.region, "region", getenv("AWS_REGION", ""), "Cognito region")
	cmd.Flags().StringVar(&f.userPoolID, "user-pool-id", getenv("COGNITO_USER_POOL_ID", ""), "Cognito user pool id")
	if withPolicy {
		cmd.Flags().StringVar(&f.clientID, "client-id", getenv("COGNITO_CLIENT_ID", ""), "Cognito app client id")
		cmd.Flags().StringVar(&f.issuer, "issuer", "", "Expected iss (generic JWKS)")
		cmd.Flags().StringVar(&f.audience, "audience", "", "Expected aud (generic JWKS)")
		cmd.Flags().IntVar(&f.skew, "clock-skew", 0, "Allowed clock skew in seconds past exp")
	}
}

func (f *providerFlags) endpoint() (string, error) {
	if f.jwksURL != "" {
		return f.jwksURL, nil
	}
	if f.region == "" || f.userPoolID == "" {
		return "", errors.New("pass --jwks-url or both --region and --user-pool-id")
	}
	return jwks.CognitoJWKSURL(f.region, f.userPoolID), nil
}

func (f *providerFlags) config() (jwks.Config, error) {
	if f.region != "" && f.userPoolID != "" {
		cc := jwks.CognitoConfig{
			Region:           f.region,
			UserPoolID:       f.userPoolID,
			ClientID:         f.clientID,
			JwksURL:          f.jwksURL,
			ClockSkewSeconds: f.skew,
		}
		if err := cc.Validate(); err != nil {
			return jwks.Config{}, err
		}
		return cc.Generic(), nil
	}
	if f.jwksURL == "" || f.issuer == "" || f.audience == "" {
		return jwks.Config{}, errors.New("pass --region/--user-pool-id/--client-id or --jwks-url/--issuer/--audience")
	}
	return jwks.Config{JwksURL: f.jwksURL, Issuer: f.issuer, Audience: f.audience, ClockSkewSeconds: f.skew}, nil
}

func jwksCmd(ui *ui) *cobra.Command {
	var pf providerFlags
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Fetch and list the provider's signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := pf.endpoint()
			if err != nil {
				return err
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching key set..."
			spin.Start()
			body, err := keyset.NewHTTPFetcher(nil).Fetch(cmd.Context(), endpoint)
			spin.Stop()
			if err != nil {
				return err
			}
			set, err := keyset.Parse(endpoint, body, time.Now())
			if err != nil {
				return err
			}
			printKeySet(cmd.OutOrStdout(), set, ui)
			return nil
		},
	}
	pf.register(cmd, false)
	return cmd
}

func printKeySet(w io.Writer, set *keyset.KeySet, ui *ui) {
	fmt.Fprintf(w, "%s %s\n", ui.title("Key set"), ui.dim(set.Endpoint))
	if len(set.Keys) == 0 {
		fmt.Fprintln(w, ui.warn("  no usable signing keys"))
		return
	}
	for _, k := range set.Keys {
		status := ui.ok("ok")
		if _, err := k.PublicKey(); err != nil {
			status = ui.err("invalid: " + err.Error())
		}
		kty := k.KeyType
		if k.Curve != "" {
			kty += "/" + k.Curve
		}
		fmt.Fprintf(w, "  %-44s %-10s %-28s %s\n", k.KeyID, kty, strings.Join(k.Methods(), ","), status)
	}
}

// lineToken is a token and the 1-based file line it was read from.
type lineToken struct {
	line  int
	token string
}

type verifyResult struct {
	line   int
	claims *auth.Claims
	err    error
}

func verifyCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		pf          providerFlags
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "verify [token]",
		Short: "Verify tokens locally against the provider's key set",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pf.config()
			if err != nil {
				return err
			}
			v, err := jwks.NewValidator(cfg, keyset.NewCachingResolver(keyset.NewHTTPFetcher(nil)), nil)
			if err != nil {
				return err
			}

			if file == "" {
				token := ""
				if len(args) == 1 {
					token = args[0]
				} else if st, err := openProfiles(); err == nil {
					// Expired sessions are passed through so the verifier reports token_expired.
					if s := st.get(*profileName).Session; s != nil {
						token = s.IDToken
					}
				}
				claims, err := v.Validate(cmd.Context(), strings.TrimSpace(token))
				if err != nil {
					fmt.Printf("%s %s\n", ui.err("[REJECTED]"), err)
					return fmt.Errorf("token rejected: %s", auth.KindOf(err))
				}
				fmt.Printf("%s sub=%s email=%s expires=%s\n", ui.ok("[VALID]"), claims.Subject, emptyOr(claims.Email, "-"), claims.ExpiresAt.Format(time.RFC3339))
				return nil
			}

			tokens, err := readTokens(file)
			if err != nil {
				return err
			}
			results := verifyAll(cmd.Context(), v, tokens, concurrency)
			return summarize(results, ui)
		},
	}
	pf.register(cmd, true)
	cmd.Flags().StringVar(&file, "file", "", "File with one token per line ('-' for stdin)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Parallel verifications for --file")
	return cmd
}

func readTokens(path string) ([]lineToken, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var tokens []lineToken
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if text := strings.TrimSpace(sc.Text()); text != "" && !strings.HasPrefix(text, "#") {
			tokens = append(tokens, lineToken{line: n, token: text})
		}
	}
	return tokens, sc.Err()
}

func verifyAll(ctx context.Context, v auth.Validator, tokens []lineToken, concurrency int) []verifyResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	bar := progressbar.NewOptions(len(tokens),
		progressbar.OptionSetDescription("Verifying"),
		progressbar.OptionSetWidth(24),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	results := make([]verifyResult, len(tokens))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			claims, err := v.Validate(gctx, tok.token)
			results[i] = verifyResult{line: tok.line, claims: claims, err: err}
			mu.Lock()
			_ = bar.Add(1)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()
	return results
}

func summarize(results []verifyResult, ui *ui) error {
	byKind := map[string]int{}
	valid := 0
	for _, r := range results {
		if r.err == nil {
			valid++
			continue
		}
		kind := string(auth.KindOf(r.err))
		if kind == "" {
			kind = "error"
		}
		byKind[kind]++
		fmt.Printf("%s line %d: %s\n", ui.warn("[REJECTED]"), r.line, r.err)
	}
	fmt.Printf("%s %d/%d valid\n", ui.title("Summary"), valid, len(results))
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-22s %d\n", k, byKind[k])
	}
	if valid != len(results) {
		return fmt.Errorf("%d token(s) rejected", len(results)-valid)
	}
	return nil
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
