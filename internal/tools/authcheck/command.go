package authcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kelmah-platform/auth-token-service/internal/tools/common"
	"github.com/kelmah-platform/auth-token-service/internal/tools/ui"
)

type options struct {
	baseURL  string
	email    string
	password string
	ci       bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "authcheck", Short: "Exercise the login, refresh and rotation flows against a running instance"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.email, "email", "", "account email (random account is registered when empty)")
	cmd.PersistentFlags().StringVar(&opts.password, "password", "", "account password")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full token lifecycle scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "authcheck run", func(ctx context.Context) ([]string, error) {
				return scenario(ctx, opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "authcheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

// scenario walks register, login, authenticated access, refresh rotation and
// finally replays the rotated-out token expecting rejection.
func scenario(ctx context.Context, opts *options) ([]string, error) {
	var details []string
	client := &http.Client{Timeout: 15 * time.Second}

	email, password := opts.email, opts.password
	if email == "" {
		email = fmt.Sprintf("authcheck-%s@example.test", uuid.NewString()[:8])
		password = uuid.NewString()
		status, _, err := postJSON(ctx, client, opts.baseURL+"/api/v1/auth/register", map[string]any{
			"email": email, "password": password, "firstName": "Auth", "lastName": "Check",
		})
		if err != nil {
			return details, err
		}
		if status != http.StatusCreated {
			return details, fmt.Errorf("register returned %d", status)
		}
		details = append(details, "registered "+email)
	}

	status, body, err := postJSON(ctx, client, opts.baseURL+"/api/v1/auth/login", map[string]any{
		"email": email, "password": password,
	})
	if err != nil {
		return details, err
	}
	if status != http.StatusOK {
		return details, fmt.Errorf("login returned %d", status)
	}
	access, refresh, err := extractTokens(body)
	if err != nil {
		return details, err
	}
	details = append(details, "login: ok")

	if err := getAuthed(ctx, client, opts.baseURL+"/api/v1/auth/me", access); err != nil {
		return details, fmt.Errorf("authenticated access: %w", err)
	}
	details = append(details, "authenticated access: ok")

	status, body, err = postJSON(ctx, client, opts.baseURL+"/api/v1/auth/refresh", map[string]any{
		"refreshToken": refresh,
	})
	if err != nil {
		return details, err
	}
	if status != http.StatusOK {
		return details, fmt.Errorf("refresh returned %d", status)
	}
	newAccess, _, err := extractTokens(body)
	if err != nil {
		return details, err
	}
	details = append(details, "refresh rotation: ok")

	status, _, err = postJSON(ctx, client, opts.baseURL+"/api/v1/auth/refresh", map[string]any{
		"refreshToken": refresh,
	})
	if err != nil {
		return details, err
	}
	if status != http.StatusUnauthorized {
		return details, fmt.Errorf("rotated-out token replay returned %d, want 401", status)
	}
	details = append(details, "rotated-out token rejected: ok")

	if err := getAuthed(ctx, client, opts.baseURL+"/api/v1/auth/me", newAccess); err != nil {
		return details, fmt.Errorf("post-rotation access: %w", err)
	}
	details = append(details, "post-rotation access: ok")
	return details, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload map[string]any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func getAuthed(ctx context.Context, client *http.Client, url, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func extractTokens(body []byte) (access, refresh string, err error) {
	var payload struct {
		Data struct {
			Tokens struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			} `json:"tokens"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", err
	}
	if payload.Data.Tokens.AccessToken == "" {
		return "", "", fmt.Errorf("response carried no access token")
	}
	return payload.Data.Tokens.AccessToken, payload.Data.Tokens.RefreshToken, nil
}
