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
	"sync"

	"github.com/tidwall/gjson"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

const (
	deviantArtName     = "deviantart"
	deviantArtPageSize = 24
)

var deviantArtDefaultTags = []string{
	"3Dmodel", "VRMmodel", "VRChat", "MMDmodel", "3Dcharacter", "3Davatar",
	"anime3D", "VRoid", "3Danime", "charactermodel", "freemodel", "downloadable3D",
}

// DeviantArt browses deviations by tag and downloads their source files.
type DeviantArt struct {
	client       *httpclient.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
	mature       bool
	logger       *slog.Logger

	mu sync.Mutex
	// token is empty until fetched when only client credentials are configured.
	token      string
	fixedToken bool
}

// NewDeviantArt builds the adapter. It needs either an access token or a
// client id and secret for the client credentials grant.
func NewDeviantArt(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (*DeviantArt, error) {
	dc := cfg.Sources.DeviantArt
	token := strings.TrimSpace(dc.AccessToken)
	if token == "" && (strings.TrimSpace(dc.ClientID) == "" || strings.TrimSpace(dc.ClientSecret) == "") {
		return nil, services.Wrap(services.ErrConfiguration, deviantArtName, "init",
			"DeviantArt access token or client credentials are required (set DEVIANTART_CLIENT_ID and DEVIANTART_CLIENT_SECRET)", nil)
	}
	return &DeviantArt{
		client:       httpclient.NewFromConfig(deviantArtName, cfg, logger, opts...),
		baseURL:      strings.TrimRight(dc.BaseURL, "/"),
		tokenURL:     dc.TokenURL,
		clientID:     strings.TrimSpace(dc.ClientID),
		clientSecret: strings.TrimSpace(dc.ClientSecret),
		mature:       dc.MatureContent,
		logger:       logging.NewComponentLogger(logger, "sources").With(logging.String(logging.FieldSource, deviantArtName)),
		token:        token,
		fixedToken:   token != "",
	}, nil
}

// Name implements Source.
func (d *DeviantArt) Name() string { return deviantArtName }

func (d *DeviantArt) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.token != "" {
		return d.token, nil
	}
	resp, err := d.client.PostForm(ctx, d.tokenURL, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {d.clientID},
		"client_secret": {d.clientSecret},
	}, nil)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, deviantArtName, "token", "client credentials grant failed", err)
	}
	token := gjson.GetBytes(resp.Body, "access_token").String()
	if token == "" {
		return "", services.Wrap(services.ErrConfiguration, deviantArtName, "token", "no access_token in response", nil)
	}
	d.token = token
	d.logger.Debug("access token obtained")
	return token, nil
}

// get issues an authenticated GET. A 401 drops a fetched token so the next
// call requests a fresh one.
func (d *DeviantArt) get(ctx context.Context, rawURL string) (*httpclient.Response, error) {
	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Get(ctx, rawURL, http.Header{"Authorization": {"Bearer " + token}})
	if httpclient.IsStatus(err, http.StatusUnauthorized) && !d.fixedToken {
		d.mu.Lock()
		d.token = ""
		d.mu.Unlock()
	}
	return resp, err
}

// Search implements Source.
func (d *DeviantArt) Search(ctx context.Context, keywords []string, maxResults int) iter.Seq2[Candidate, error] {
	return singleUse(func(yield func(Candidate, error) bool) {
		col := newCollector(maxResults, yield, d.logger)
		tags := deviantArtDefaultTags
		if len(keywords) > 0 {
			tags = keywords
		}
		for _, tag := range tags {
			if !col.more() || !d.browseTag(ctx, col, tag) {
				return
			}
		}
	})
}

func (d *DeviantArt) browseTag(ctx context.Context, col *collector, tag string) bool {
	offset := int64(0)
	for col.more() {
		resp, err := d.get(ctx, withQuery(d.baseURL+"/browse/tags", url.Values{
			"tag":            {tag},
			"offset":         {strconv.FormatInt(offset, 10)},
			"limit":          {strconv.Itoa(min(col.remaining(), deviantArtPageSize))},
			"mature_content": {strconv.FormatBool(d.mature)},
		}))
		if err != nil {
			return col.queryFailed(tag, err)
		}
		doc := gjson.ParseBytes(resp.Body)
		results := doc.Get("results").Array()
		if len(results) == 0 {
			break
		}
		for _, deviation := range results {
			if !col.offer(parseDeviation(deviation)) {
				return false
			}
		}
		if !doc.Get("has_more").Bool() {
			break
		}
		if next := doc.Get("next_offset"); next.Exists() && next.Int() > offset {
			offset = next.Int()
		} else {
			offset += int64(len(results))
		}
	}
	return col.more()
}

func parseDeviation(deviation gjson.Result) Candidate {
	id := deviation.Get("deviationid").String()

	title := deviation.Get("title").String()
	if title == "" {
		title = "Deviation " + id
	}
	artist := deviation.Get("author.username").String()
	if artist == "" {
		artist = "Unknown"
	}
	sourceURL := deviation.Get("url").String()
	if sourceURL == "" {
		sourceURL = "https://www.deviantart.com/deviation/" + id
	}
	thumb := deviation.Get("content.src").String()
	if thumb == "" {
		if thumbs := deviation.Get("thumbs").Array(); len(thumbs) > 0 {
			thumb = thumbs[len(thumbs)-1].Get("src").String()
		}
	}
	return Candidate{
		ItemID:       id,
		DisplayName:  textutil.CleanDisplayName(title),
		Artist:       artist,
		SourceURL:    sourceURL,
		Downloadable: deviation.Get("is_downloadable").Bool(),
		License:      "DeviantArt Terms",
		LicenseURL:   "https://www.deviantart.com/about/policy/submission/",
		ThumbnailURL: thumb,
	}
}

// Download resolves the original file for a deviation and fetches it.
func (d *DeviantArt) Download(ctx context.Context, c Candidate, destDir string) (string, error) {
	resp, err := d.get(ctx, d.baseURL+"/deviation/download/"+url.PathEscape(c.ItemID))
	if err != nil {
		return "", services.Wrap(services.ErrDownload, deviantArtName, "download info", c.ItemID, err)
	}
	doc := gjson.ParseBytes(resp.Body)
	src := doc.Get("src").String()
	if src == "" {
		return "", services.Wrap(services.ErrDownload, deviantArtName, "download info",
			"no download URL for deviation "+c.ItemID, nil)
	}
	ext := strings.ToLower(filepath.Ext(doc.Get("filename").String()))

	dest := filepath.Join(destDir, "deviantart_"+textutil.PathSegment(c.ItemID)+ext)
	if _, err := d.client.StreamToFile(ctx, src, dest, nil); err != nil {
		return "", err
	}
	if ext != "" {
		return dest, nil
	}
	renamed, err := sniffRename(dest, ".zip")
	if err != nil {
		return "", services.Wrap(services.ErrDownload, deviantArtName, "rename", dest, err)
	}
	return renamed, nil
}
