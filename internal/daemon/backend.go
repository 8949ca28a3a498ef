package daemon

import (
	"context"
	"fmt"

	"gramfs/internal/blob"
)

// NewBlobStore builds the chunk store selected by settings.Backend. The
// daemon and the CLI both go through here, so a catalog is always paired
// with the backend the user configured.
func NewBlobStore(ctx context.Context, settings *GlobalSettings) (blob.Store, error) {
	switch settings.Backend {
	case "telegram":
		if settings.Telegram.Token == "" || settings.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram backend needs token and chat_id in %s", GlobalSettingsPath())
		}
		cfg := blob.TelegramConfig{
			Token:   settings.Telegram.Token,
			ChatID:  settings.Telegram.ChatID,
			BaseURL: settings.Telegram.APIURL,
		}
		// Self-hosted Bot API servers lift the 20 MiB document ceiling;
		// against the public API the store keeps its stock limit.
		if settings.Telegram.APIURL != "" {
			cfg.MaxSize = settings.ChunkSize
		}
		return blob.NewTelegramStore(cfg), nil

	case "s3":
		if settings.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 backend needs a bucket in %s", GlobalSettingsPath())
		}
		return blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  settings.S3.Endpoint,
			Region:    settings.S3.Region,
			Bucket:    settings.S3.Bucket,
			AccessKey: settings.S3.AccessKey,
			SecretKey: settings.S3.SecretKey,
			MaxSize:   settings.ChunkSize,
		})

	case "memory":
		// Chunks live only as long as the process; useful for trying the
		// filesystem out without a remote account.
		return blob.NewMemoryStore(0), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want telegram, s3, or memory)", settings.Backend)
}
