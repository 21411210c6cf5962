// Package remote holds the HTTP clients for the remote collaborators:
// transcription, summarization, and the coin ledger. Schemas are logical
// contracts, not byte-exact ones.
package remote

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Katie1225/voicevault/internal/config"
	"github.com/Katie1225/voicevault/pkg/models"
)

// requestTimeout bounds every remote call; transcription uploads are the
// slowest, so this is generous.
const requestTimeout = 120 * time.Second

// Client talks to the remote services over HTTP.
type Client struct {
	http *resty.Client
	cfg  config.Remote
}

// New creates a Client from the remote endpoint configuration.
func New(cfg config.Remote) *Client {
	c := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(0) // failures surface to the user, no automatic retry
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: c, cfg: cfg}
}

type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe uploads the audio file and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	var out transcribeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetResult(&out).
		SetError(&out).
		Post(c.cfg.TranscribeURL)
	if err != nil {
		return "", &models.ExternalError{Op: models.OpTranscribe, Diagnostic: err.Error()}
	}
	if resp.IsError() {
		return "", &models.ExternalError{Op: models.OpTranscribe, Diagnostic: serviceDiagnostic(out.Error, resp)}
	}
	return out.Text, nil
}

type summarizeRequest struct {
	Text       string `json:"text"`
	ModePrompt string `json:"mode_prompt"`
}

type summarizeResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Summarize sends the transcript with a mode prompt and returns the summary.
func (c *Client) Summarize(ctx context.Context, text, modePrompt string) (string, error) {
	var out summarizeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(summarizeRequest{Text: text, ModePrompt: modePrompt}).
		SetResult(&out).
		SetError(&out).
		Post(c.cfg.SummarizeURL)
	if err != nil {
		return "", &models.ExternalError{Op: models.OpSummarize, Diagnostic: err.Error()}
	}
	if resp.IsError() {
		return "", &models.ExternalError{Op: models.OpSummarize, Diagnostic: serviceDiagnostic(out.Error, resp)}
	}
	return out.Result, nil
}

type balanceResponse struct {
	Coins int64 `json:"coins"`
}

// Balance fetches the remote ledger balance for an account.
func (c *Client) Balance(ctx context.Context, accountID string) (int64, error) {
	var out balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", accountID).
		SetResult(&out).
		Get(c.cfg.LedgerURL + "/balance")
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("ledger balance: %s", resp.Status())
	}
	return out.Coins, nil
}

type transactionRequest struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Value  int64  `json:"value"`
	Note   string `json:"note,omitempty"`
}

type transactionResponse struct {
	Success bool `json:"success"`
}

// Report posts one ledger transaction.
func (c *Client) Report(ctx context.Context, txn models.LedgerTransaction) error {
	var out transactionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transactionRequest{
			ID:     txn.AccountID,
			Action: string(txn.Action),
			Value:  txn.Value,
			Note:   txn.Note,
		}).
		SetResult(&out).
		Post(c.cfg.LedgerURL + "/transaction")
	if err != nil {
		return fmt.Errorf("ledger transaction: %w", err)
	}
	if resp.IsError() || !out.Success {
		return fmt.Errorf("ledger transaction rejected: %s", resp.Status())
	}
	return nil
}

func serviceDiagnostic(svcErr string, resp *resty.Response) string {
	if svcErr != "" {
		return svcErr
	}
	return resp.Status()
}
