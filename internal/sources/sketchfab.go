package sources

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

const (
	sketchfabName     = "sketchfab"
	sketchfabPageSize = 24
)

var sketchfabDefaultTerms = []string{
	"vrm avatar",
	"vroid",
	"vrchat avatar",
	"anime avatar",
	"humanoid avatar",
}

// Sketchfab is the Sketchfab Data API v3 adapter.
type Sketchfab struct {
	client  *httpclient.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewSketchfab builds the adapter. An API token is required.
func NewSketchfab(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (*Sketchfab, error) {
	token := strings.TrimSpace(cfg.Sources.Sketchfab.APIToken)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, sketchfabName, "init",
			"Sketchfab API token is required (set SKETCHFAB_API_TOKEN)", nil)
	}
	return &Sketchfab{
		client:  httpclient.NewFromConfig(sketchfabName, cfg, logger, opts...),
		baseURL: strings.TrimRight(cfg.Sources.Sketchfab.BaseURL, "/"),
		token:   token,
		logger:  logging.NewComponentLogger(logger, "sources").With(logging.String(logging.FieldSource, sketchfabName)),
	}, nil
}

// Name implements Source.
func (s *Sketchfab) Name() string { return sketchfabName }

func (s *Sketchfab) header() http.Header {
	return http.Header{"Authorization": {"Token " + s.token}}
}

// Search implements Source. Only models under a free licence are yielded.
func (s *Sketchfab) Search(ctx context.Context, keywords []string, maxResults int) iter.Seq2[Candidate, error] {
	return singleUse(func(yield func(Candidate, error) bool) {
		col := newCollector(maxResults, yield, s.logger)
		terms := sketchfabDefaultTerms
		if joined := strings.TrimSpace(strings.Join(keywords, " ")); joined != "" {
			terms = []string{joined}
		}
		for _, term := range terms {
			if !col.more() || !s.pageThrough(ctx, col, term) {
				return
			}
		}
	})
}

func (s *Sketchfab) pageThrough(ctx context.Context, col *collector, term string) bool {
	next := withQuery(s.baseURL+"/search", url.Values{
		"type":         {"models"},
		"q":            {term},
		"downloadable": {"true"},
		"count":        {strconv.Itoa(min(col.remaining(), sketchfabPageSize))},
	})
	for next != "" && col.more() {
		resp, err := s.client.Get(ctx, next, s.header())
		if err != nil {
			return col.queryFailed(term, err)
		}
		doc := gjson.ParseBytes(resp.Body)
		results := doc.Get("results").Array()
		if len(results) == 0 {
			break
		}
		for _, item := range results {
			if !col.offer(parseSketchfabModel(item)) {
				return false
			}
		}
		next = resolveURL(s.baseURL, doc.Get("next").String())
	}
	return col.more()
}

// freeLicense reports whether slug is a Creative Commons licence or unset.
func freeLicense(slug string) bool {
	return slug == "" || strings.HasPrefix(slug, "cc")
}

func parseSketchfabModel(item gjson.Result) Candidate {
	uid := item.Get("uid").String()

	name := item.Get("name").String()
	if name == "" {
		name = "Model " + uid
	}
	artist := item.Get("user.displayName").String()
	if artist == "" {
		artist = item.Get("user.username").String()
	}
	sourceURL := item.Get("viewerUrl").String()
	if sourceURL == "" {
		sourceURL = "https://sketchfab.com/3d-models/" + uid
	}
	license := item.Get("license.label").String()
	if license == "" {
		license = "Sketchfab Standard"
	}
	licenseURL := item.Get("license.url").String()
	if licenseURL == "" {
		licenseURL = "https://sketchfab.com/licenses"
	}

	var thumb string
	images := item.Get("thumbnails.images").Array()
	for _, img := range images {
		if img.Get("width").Int() >= 200 {
			thumb = img.Get("url").String()
			break
		}
	}
	if thumb == "" && len(images) > 0 {
		thumb = images[0].Get("url").String()
	}

	return Candidate{
		ItemID:       uid,
		DisplayName:  textutil.CleanDisplayName(name),
		Artist:       artist,
		SourceURL:    sourceURL,
		Downloadable: item.Get("isDownloadable").Bool() && freeLicense(item.Get("license.slug").String()),
		License:      license,
		LicenseURL:   licenseURL,
		ThumbnailURL: thumb,
	}
}

// Download fetches the GLB export, or the zipped glTF export when no GLB exists.
func (s *Sketchfab) Download(ctx context.Context, c Candidate, destDir string) (string, error) {
	resp, err := s.client.Get(ctx, s.baseURL+"/models/"+url.PathEscape(c.ItemID)+"/download", s.header())
	if err != nil {
		return "", services.Wrap(services.ErrDownload, sketchfabName, "download info", c.ItemID, err)
	}
	doc := gjson.ParseBytes(resp.Body)

	fileURL, ext := doc.Get("glb.url").String(), ".glb"
	if fileURL == "" {
		fileURL, ext = doc.Get("gltf.url").String(), ".zip"
	}
	if fileURL == "" {
		return "", services.Wrap(services.ErrDownload, sketchfabName, "download info",
			"no download URL found for model "+c.ItemID, nil)
	}

	dest := filepath.Join(destDir, "sketchfab_"+textutil.PathSegment(c.ItemID)+ext)
	// Presigned storage URLs reject the API token.
	if _, err := s.client.StreamToFile(ctx, fileURL, dest, nil); err != nil {
		return "", err
	}
	return dest, nil
}
