package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("not logged in")

// newRootCmd builds the command tree. Call release after Execute: cobra
// skips post-run hooks when a command fails, so cleanup cannot live there.
func newRootCmd(stdout, stderr io.Writer) (root *cobra.Command, release func()) {
	opts := options{stderr: stderr}
	var a *app

	root = &cobra.Command{
		Use:   "adminctl",
		Short: "Manage a portfolio admin session",
		Long: `adminctl logs in against the identity service, keeps the access token
in the configured token store, and checks it the same way the gateway does.

Configuration comes from PORTFOLIO_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = setup(cmd.Context(), opts)
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.sessionKey, "session", "default", "token store key for this session")
	root.PersistentFlags().StringVar(&opts.gatewayURL, "gateway", "http://localhost:8080", "gateway base URL for probe")

	current := func() *app { return a }
	root.AddCommand(
		credentialsCmd("login", "Log in with email and password", current),
		credentialsCmd("signup", "Create an account and log in", current),
		whoamiCmd(current),
		logoutCmd(current),
		verifyCmd(current),
		probeCmd(current),
	)
	release = func() {
		if a != nil {
			a.Close()
			a = nil
		}
	}
	return root, release
}

func credentialsCmd(op, short string, current func() *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := current().session
			call := s.Login
			if op == "signup" {
				call = s.Signup
			}
			user, err := call(cmd.Context(), email, password)
			if err != nil {
				// AuthError messages are already meant for people.
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func whoamiCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the verified session for the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, ok := current().session.AccessToken()
			if !ok {
				return errNotLoggedIn
			}
			sess := current().resolver.ResolveToken(cmd.Context(), token)
			if sess == nil {
				return fmt.Errorf("%w: stored token was rejected", errNotLoggedIn)
			}
			return printJSON(cmd.OutOrStdout(), sess)
		},
	}
}

func logoutCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Run: func(cmd *cobra.Command, _ []string) {
			current().session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		},
	}
}

func verifyCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [token]",
		Short: "Verify a token against the key set without contacting the identity service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, ok := current().session.AccessToken()
			if len(args) == 1 {
				token, ok = strings.TrimSpace(args[0]), true
			}
			if !ok {
				return errNotLoggedIn
			}
			claims, err := current().guard.Verify(cmd.Context(), token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), claims)
		},
	}
}

func probeCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <path>",
		Short: "Request a gateway path carrying the mirrored token cookie",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(cmd.Context(), current(), args[0], cmd.OutOrStdout())
		},
	}
}

// probe sends one request through the cookie jar the mirror writes to, so
// the gateway sees exactly what a browser holding this session would send.
func probe(ctx context.Context, a *app, path string, out io.Writer) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := a.gatewayURL.ResolveReference(&url.URL{Path: path}).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	client := &http.Client{
		Jar:     a.jar,
		Timeout: a.cfg.Auth.HTTPTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", target, err)
	}
	defer resp.Body.Close()

	result := map[string]any{
		"url":        target,
		"status":     resp.StatusCode,
		"request_id": requestID,
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		result["location"] = loc
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var body any
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil {
			result["body"] = body
		}
	}
	return printJSON(out, result)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
