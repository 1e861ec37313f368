package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	ingestFile   string
	ingestSource string
	ingestURL    string
	ingestToken  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "POST a call record file to a running callpipe API",
	Example: `  callpipe ingest --file record.json --source teams --url http://localhost:8080
  cat record.json | callpipe ingest --file -`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "-", "call record JSON file, - for stdin")
	ingestCmd.Flags().StringVarP(&ingestSource, "source", "s", "", "source system; uses the record's own source when empty")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "http://localhost:8080", "base URL of the API")
	ingestCmd.Flags().StringVar(&ingestToken, "token", os.Getenv("CALLPIPE_TOKEN"), "bearer token when the API requires auth")
}

// ingestEndpoint joins the base URL with the ingest path for source.
func ingestEndpoint(base, source string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	path := "/api/ingest"
	if source != "" {
		path += "/" + url.PathEscape(strings.ToLower(source))
	}
	return u.JoinPath(path).String(), nil
}

func runIngest(cmd *cobra.Command, _ []string) error {
	var body []byte
	var err error
	if ingestFile == "-" {
		body, err = io.ReadAll(cmd.InOrStdin())
	} else {
		body, err = os.ReadFile(ingestFile)
	}
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}

	endpoint, err := ingestEndpoint(ingestURL, ingestSource)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ingestToken != "" {
		req.Header.Set("Authorization", "Bearer "+ingestToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingest failed: %s", resp.Status)
	}
	return nil
}
