// Copyright 2026 GramFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gramfs/internal/metrics"
	"gramfs/internal/util"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	defaultTelegramTimeout = 5 * time.Minute
)

// TelegramConfig holds Bot API connection settings.
type TelegramConfig struct {
	Token   string
	ChatID  string
	BaseURL string        // defaults to the public Bot API
	MaxSize int64         // defaults to 20 MiB
	Timeout time.Duration // per-request HTTP timeout
}

// TelegramStore stores chunks as documents sent to a Telegram chat. An
// uploaded document's file_id is the blob id; downloads resolve the
// file_id to a file_path via getFile and fetch the bytes from the file
// endpoint.
type TelegramStore struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramStore creates a Telegram-backed blob store.
func NewTelegramStore(cfg TelegramConfig) *TelegramStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = DefaultMaxObjectSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTelegramTimeout
	}
	return &TelegramStore{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// apiResponse is the Bot API envelope common to all method calls.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sendDocumentResult struct {
	Document struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

type getFileResult struct {
	FilePath string `json:"file_path"`
}

// Upload sends data as a document to the configured chat and returns the
// resulting file_id.
func (t *TelegramStore) Upload(ctx context.Context, data []byte) (id string, err error) {
	if err := checkSize(t, len(data)); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { metrics.RecordBlobUpload(t.Type(), int64(len(data)), time.Since(start), err) }()

	id, err = util.RetryWithResult(ctx, func() (string, error) {
		return t.sendDocument(ctx, data)
	}, util.RemoteRetryOptions(ctx)...)
	if err != nil {
		return "", fmt.Errorf("telegram upload: %w", err)
	}

	log.Debugf("[BLOB] telegram upload: %d bytes -> %s", len(data), id)
	return id, nil
}

func (t *TelegramStore) sendDocument(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", t.cfg.ChatID); err != nil {
		return "", err
	}
	// The document needs a filename; it is otherwise meaningless to us.
	part, err := mw.CreateFormFile("document", uuid.NewString()+".bin")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", t.cfg.BaseURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result sendDocumentResult
	if err := t.call(req, &result); err != nil {
		return "", err
	}
	if result.Document.FileID == "" {
		return "", fmt.Errorf("sendDocument response carried no file_id")
	}
	return result.Document.FileID, nil
}

// Download resolves id to a file path and fetches the document bytes.
func (t *TelegramStore) Download(ctx context.Context, id string) (data []byte, err error) {
	start := time.Now()
	defer func() {
		var n int64
		if err == nil {
			n = int64(len(data))
		}
		metrics.RecordBlobDownload(t.Type(), n, time.Since(start), err)
	}()

	data, err = util.RetryWithResult(ctx, func() ([]byte, error) {
		return t.fetchDocument(ctx, id)
	}, util.RemoteRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("telegram download %s: %w", id, err)
	}

	log.Debugf("[BLOB] telegram download: %s -> %d bytes", id, len(data))
	return data, nil
}

func (t *TelegramStore) fetchDocument(ctx context.Context, id string) ([]byte, error) {
	url := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", t.cfg.BaseURL, t.cfg.Token, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var result getFileResult
	if err := t.call(req, &result); err != nil {
		// getFile rejects an unknown file_id with 400 "invalid file_id"
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, apiErr.Description)
		}
		return nil, err
	}
	if result.FilePath == "" {
		return nil, fmt.Errorf("getFile response carried no file_path")
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", t.cfg.BaseURL, t.cfg.Token, result.FilePath)
	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(fileReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// apiError is a Bot API level failure (ok=false in the envelope).
type apiError struct {
	Status      int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bot API error (status %d): %s", e.Status, e.Description)
}

// call performs a Bot API request and unmarshals the result payload.
func (t *TelegramStore) call(req *http.Request, result any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		return &apiError{Status: resp.StatusCode, Description: envelope.Description}
	}
	return json.Unmarshal(envelope.Result, result)
}

// MaxObjectSize reports the configured per-document limit.
func (t *TelegramStore) MaxObjectSize() int64 { return t.cfg.MaxSize }

// Type returns "telegram".
func (t *TelegramStore) Type() string { return "telegram" }
