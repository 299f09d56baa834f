// Package fetch downloads a replacement question set over HTTP (for
// update-questions). Validation and cache writing stay with the caller.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	userAgent  = "kvgauge/0.1.0"
	timeoutSec = 30
	maxBody    = 8 << 20 // question sets are small; anything bigger is wrong
)

// FetchQuestionSet fetches the raw question set JSON from url. Caller should
// validate and write to the question cache.
func FetchQuestionSet(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutSec*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("update-questions: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not update questions: %v (check network)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not update questions: HTTP %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("could not update questions: %w", err)
	}
	return body, nil
}
