package image_renderer

import (
	"context"
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"imgopt/internal/imageformat"
)

// Renderer resizes and re-encodes images with libvips. The number of images
// in flight is capped by a fixed set of worker slots since every decoded
// image holds its full pixel buffer.
type Renderer struct {
	slots  chan struct{}
	logger *zap.Logger
}

func New(concurrency int, logger *zap.Logger) *Renderer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Renderer{
		slots:  make(chan struct{}, concurrency),
		logger: logger,
	}
}

// Startup initializes libvips and routes its log output to zap. The returned
// func shuts libvips down.
func Startup(concurrency, maxCacheMB int, log *zap.Logger) func() {
	vipsConfig := &vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      maxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                        // Disable vips' own disk cache
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelWarning)

	vips.Startup(vipsConfig)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", maxCacheMB),
		zap.Int("concurrency", concurrency),
	)

	return vips.Shutdown
}

func (r *Renderer) Transform(ctx context.Context, data []byte, opts imageformat.Options) ([]byte, error) {
	if !imageformat.Supported(opts.Format) {
		return nil, fmt.Errorf("unsupported output format: %s", opts.Format)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty source image")
	}

	select {
	case r.slots <- struct{}{}: // Acquire worker slot
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.slots }() // Release worker slot

	image, err := vips.NewImageFromBuffer(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer image.Close()

	// Proportional resize to the requested width. Upscaling is allowed.
	if opts.Width > 0 && opts.Width != image.Width() {
		scale := float64(opts.Width) / float64(image.Width())

		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := image.Resize(scale, resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	out, err := r.encode(image, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", opts.Format, err)
	}

	r.logger.Debug("Image transformed",
		zap.String("format", string(opts.Format)),
		zap.Int("width", image.Width()),
		zap.Int("height", image.Height()),
		zap.Int("quality", opts.Quality),
		zap.Int("in_bytes", len(data)),
		zap.Int("out_bytes", len(out)),
	)

	return out, nil
}

func (r *Renderer) encode(image *vips.Image, opts imageformat.Options) ([]byte, error) {
	switch opts.Format {
	case imageformat.AVIF:
		heifOpts := vips.DefaultHeifsaveBufferOptions()
		heifOpts.Q = opts.Quality
		heifOpts.Compression = vips.HeifCompressionAv1
		return image.HeifsaveBuffer(heifOpts)
	case imageformat.WebP:
		webpOpts := vips.DefaultWebpsaveBufferOptions()
		webpOpts.Q = opts.Quality
		return image.WebpsaveBuffer(webpOpts)
	case imageformat.PNG:
		// A quality setting implies palette quantization for PNG.
		pngOpts := vips.DefaultPngsaveBufferOptions()
		pngOpts.Palette = true
		pngOpts.Q = opts.Quality
		return image.PngsaveBuffer(pngOpts)
	case imageformat.GIF:
		// GIF has no quality knob.
		return image.GifsaveBuffer(vips.DefaultGifsaveBufferOptions())
	case imageformat.TIFF:
		tiffOpts := vips.DefaultTiffsaveBufferOptions()
		tiffOpts.Q = opts.Quality
		return image.TiffsaveBuffer(tiffOpts)
	default:
		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = opts.Quality
		jpegOpts.Interlace = true
		return image.JpegsaveBuffer(jpegOpts)
	}
}
