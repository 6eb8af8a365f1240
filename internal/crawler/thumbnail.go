package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
}

// fetchThumbnail downloads the candidate's preview image into dir and returns
// its path. Failures are logged and yield an empty path.
func fetchThumbnail(ctx context.Context, logger *slog.Logger, client *httpclient.Client, dir string, cand sources.Candidate) string {
	base := filepath.Join(dir, textutil.PathSegment(cand.ItemID))
	ext := thumbnailExt(cand.ThumbnailURL)
	dest := base + ext
	if _, err := client.StreamToFile(ctx, cand.ThumbnailURL, dest, nil); err != nil {
		logging.WarnWithContext(logger, "thumbnail download failed", "thumbnail_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the preview URL may have expired"),
			logging.String(logging.FieldImpact, "entry stored without thumbnail"),
		)
		return ""
	}
	if ext != "" {
		return dest
	}

	ext = ".jpg"
	if mtype, err := mimetype.DetectFile(dest); err == nil && strings.HasPrefix(mtype.String(), "image/") && mtype.Extension() != "" {
		ext = mtype.Extension()
	}
	renamed := base + ext
	if err := os.Rename(dest, renamed); err != nil {
		logger.Debug("thumbnail rename failed", logging.Error(err))
		return dest
	}
	return renamed
}

func thumbnailExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := imageExtensions[ext]; ok {
		return ext
	}
	return ""
}
