package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"time"

	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/storage"
	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	_ "golang.org/x/image/webp"
)

// Publisher converts a finished generation result into stored, user-facing
// assets: it downloads the source image, crops it into a 2x2 grid, and
// uploads every quadrant to object storage under a tenant-scoped path.
// Stateless per invocation.
type Publisher struct {
	storage   storage.ObjectStorage
	http      *resty.Client
	log       *logger.Logger
	uploadDir string
}

// PublisherConfig holds configuration for the asset publisher.
type PublisherConfig struct {
	// UploadDir is the key prefix for published assets.
	UploadDir string

	// DownloadTimeout bounds the source image download.
	DownloadTimeout time.Duration
}

const (
	gridRows = 2
	gridCols = 2
)

// NewPublisher creates a new asset publisher.
// Parameters:
//   - objectStorage: storage client uploads go to.
//   - log: base logger.
//   - cfg: publisher configuration; nil uses defaults.
// Returns:
//   - *Publisher: initialized publisher.
func NewPublisher(objectStorage storage.ObjectStorage, log *logger.Logger, cfg *PublisherConfig) *Publisher {
	if cfg == nil {
		cfg = &PublisherConfig{}
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = "imaginations"
	}
	timeout := cfg.DownloadTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New()
	client.SetTimeout(timeout)

	return &Publisher{
		storage:   objectStorage,
		http:      client,
		log:       log,
		uploadDir: uploadDir,
	}
}

// Publish downloads the source image, splits it into quadrants, and uploads
// each one concurrently. All-or-nothing: any failed upload fails the whole
// publish and no results are returned. Each returned descriptor carries the
// quadrant's public URL and the original image's width and height.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imag: owning imagination; provides the tenant path, prompt, and engine.
//   - sourceURL: URL of the generated source image.
// Returns:
//   - []domain.ImagineResult: one descriptor per quadrant, row-major.
//   - error: non-nil if download, decode, or any upload fails.
func (p *Publisher) Publish(ctx context.Context, imag *domain.Imagination, sourceURL string) ([]domain.ImagineResult, error) {
	if sourceURL == "" {
		return nil, errors.New("missing source image url")
	}

	start := time.Now()

	resp, err := p.http.R().SetContext(ctx).Get(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download source image: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to download source image: status %d", resp.StatusCode())
	}

	src, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}
	origWidth := src.Bounds().Dx()
	origHeight := src.Bounds().Dy()

	sections := cropGrid(src, gridRows, gridCols)
	name := sanitizePrompt(imag.Prompt)
	metadata := map[string]string{
		"prompt": imag.Prompt,
		"engine": string(imag.Engine),
	}

	results := make([]domain.ImagineResult, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	for i, section := range sections {
		g.Go(func() error {
			var buf bytes.Buffer
			if err := png.Encode(&buf, section); err != nil {
				return fmt.Errorf("failed to encode section %d: %w", i+1, err)
			}

			key := fmt.Sprintf("%s/%s/%s/%s_%d.png", p.uploadDir, imag.BusinessID, imag.UserID, name, i+1)
			if err := p.storage.Upload(gctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "image/png", metadata); err != nil {
				return fmt.Errorf("failed to upload section %d: %w", i+1, err)
			}

			results[i] = domain.ImagineResult{
				URL:    p.storage.GetURL(key),
				Width:  origWidth,
				Height: origHeight,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(results),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Published imagination assets")

	return results, nil
}
