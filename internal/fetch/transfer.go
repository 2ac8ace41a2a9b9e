package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Transfer is a completed download sitting in a temporary file.
type Transfer struct {
	URL      string
	TempPath string
	Size     int64
	Header   http.Header
}

// Downloader streams a resource into a temporary file under tempDir.
type Downloader interface {
	Download(ctx context.Context, rawURL, tempDir string) (*Transfer, error)
}

// Download streams the body of rawURL into tempDir/<id>.part. It is not
// bounded by a timeout; ctx cancellation is the only way to stop it. The
// partial file is removed on failure.
func (c *Client) Download(ctx context.Context, rawURL, tempDir string) (*Transfer, error) {
	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	tempPath, size, err := WritePart(tempDir, resp.Body)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("op", "fetch/transfer").Msgf("transferred %d bytes from %s", size, rawURL)
	return &Transfer{
		URL:      resp.Request.URL.String(),
		TempPath: tempPath,
		Size:     size,
		Header:   resp.Header,
	}, nil
}

// WritePart copies r into a fresh .part file in tempDir.
func WritePart(tempDir string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("error creating temp directory: %w", err)
	}
	tempPath := filepath.Join(tempDir, uuid.NewString()+".part")
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("error creating temp file: %w", err)
	}
	buffer := make([]byte, DefaultBufferSize)
	size, copyErr := io.CopyBuffer(out, r, buffer)
	if copyErr == nil {
		copyErr = out.Sync()
	}
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("error writing temp file: %w", copyErr)
	}
	return tempPath, size, nil
}
