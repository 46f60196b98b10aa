package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"certextract/internal/logger"
	"certextract/pkg/models"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Check a running certextract service",
	Long: `Query the health endpoint of a running service and, when a file is given,
upload it to /extract and print the returned metadata.`,
	Example: `  # Health only
  certextract check

  # Upload a certificate to a remote instance
  certextract check diploma.pdf --url http://ocr.internal:8000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("url", "http://localhost:8000", "Base URL of the service")
	checkCmd.Flags().Duration("timeout", 2*time.Minute, "Request timeout")
}

func runCheck(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := &checkClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	out := cmd.OutOrStdout()

	health, err := client.health(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Health: %s\n", health.Status)
	for _, name := range sortedKeys(health.ServiceAvailability) {
		fmt.Fprintf(out, "  %-16s %s\n", name, health.ServiceAvailability[name])
	}

	if len(args) == 0 {
		return nil
	}

	resp, err := client.extract(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nFile: %s\n", resp.Filename)
	fmt.Fprintf(out, "Extracted text length: %d\n", resp.ExtractedTextLength)
	if resp.JSONFile != "" {
		fmt.Fprintf(out, "Archived at: %s\n", resp.JSONFile)
	}
	fmt.Fprintln(out, "Metadata:")
	for _, key := range sortedKeys(resp.Metadata) {
		fmt.Fprintf(out, "  %s: %s\n", key, resp.Metadata[key])
	}
	return nil
}

type healthResponse struct {
	Status              string            `json:"status"`
	ServiceAvailability map[string]string `json:"service_availability"`
}

type checkClient struct {
	baseURL string
	http    *http.Client
}

func (c *checkClient) health(ctx context.Context) (*healthResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health request: %w", err)
	}

	var health healthResponse
	if err := c.do(req, &health); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &health, nil
}

func (c *checkClient) extract(ctx context.Context, path string) (*models.ExtractResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.WithComponent("check")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to create multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create extract request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	log.Debug().
		Str("file", path).
		Int("size", len(data)).
		Str("url", req.URL.String()).
		Msg("Uploading document")

	var resp models.ExtractResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("extract failed: %w", err)
	}
	return &resp, nil
}

// do sends req and decodes a 200 response into v. Error responses are
// decoded as models.ErrorResponse.
func (c *checkClient) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s (stage %s): %s", resp.StatusCode, apiErr.Error, apiErr.Stage, apiErr.Detail)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
