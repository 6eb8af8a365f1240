package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
	"github.com/coff33ninja/vrm-auto-scraper/internal/httpclient"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

const (
	vroidName       = "vroid"
	vroidAPIVersion = "11"
	vroidWebBase    = "https://hub.vroid.com"
	vroidLicenseURL = "https://hub.vroid.com/license"
	vroidPageSize   = 100
)

// vroidDefaultTerms are searched after staff picks when no keywords are given.
var vroidDefaultTerms = []string{
	"free download", "character", "anime", "girl", "boy", "cute", "original",
	"genshin", "honkai", "zenless zone zero", "vtuber", "hololive", "nijisanji",
	"miku", "touhou", "fate", "blue archive", "arknights", "azur lane",
	"uma musume", "project sekai", "nier", "final fantasy", "persona",
}

// VRoid is the VRoid Hub adapter.
type VRoid struct {
	client        *httpclient.Client
	baseURL       string
	tokenURL      string
	clientID      string
	clientSecret  string
	tokenFile     string
	includeHearts bool
	includeOwn    bool
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	tokens Tokens
}

// NewVRoid builds the adapter. The access token comes from configuration or,
// when absent there, from the token file.
func NewVRoid(cfg *config.Config, logger *slog.Logger, opts ...httpclient.Option) (*VRoid, error) {
	vc := cfg.Sources.VRoid
	tokens := Tokens{AccessToken: strings.TrimSpace(vc.AccessToken), RefreshToken: strings.TrimSpace(vc.RefreshToken)}
	if tokens.AccessToken == "" && vc.TokenFile != "" {
		stored, err := LoadTokens(vc.TokenFile)
		switch {
		case err == nil:
			tokens = stored
		case !errors.Is(err, os.ErrNotExist):
			return nil, services.Wrap(services.ErrConfiguration, vroidName, "load tokens", vc.TokenFile, err)
		}
	}
	if tokens.AccessToken == "" {
		return nil, services.Wrap(services.ErrConfiguration, vroidName, "init",
			"VRoid Hub access token is required (set VROID_ACCESS_TOKEN or "+vc.TokenFile+")", nil)
	}

	baseURL := strings.TrimRight(vc.BaseURL, "/")
	return &VRoid{
		client:        httpclient.NewFromConfig(vroidName, cfg, logger, opts...),
		baseURL:       baseURL,
		tokenURL:      resolveURL(baseURL, "/oauth/token"),
		clientID:      vc.ClientID,
		clientSecret:  vc.ClientSecret,
		tokenFile:     vc.TokenFile,
		includeHearts: vc.IncludeHearts,
		includeOwn:    vc.IncludeOwn,
		logger:        logging.NewComponentLogger(logger, "sources").With(logging.String(logging.FieldSource, vroidName)),
		now:           time.Now,
		tokens:        tokens,
	}, nil
}

// Name implements Source.
func (v *VRoid) Name() string { return vroidName }

type vroidQuery struct {
	label  string
	path   string
	params url.Values
}

func (v *VRoid) queries(keywords []string) []vroidQuery {
	search := func(term string) vroidQuery {
		return vroidQuery{
			label:  term,
			path:   "/search/character_models",
			params: url.Values{"keyword": {term}, "is_downloadable": {"true"}},
		}
	}
	var out []vroidQuery
	if joined := strings.TrimSpace(strings.Join(keywords, " ")); joined != "" {
		out = append(out, search(joined))
	} else {
		out = append(out, vroidQuery{label: "staff picks", path: "/staff_picks", params: url.Values{}})
		for _, term := range vroidDefaultTerms {
			out = append(out, search(term))
		}
	}
	if v.includeHearts && v.clientID != "" {
		out = append(out, vroidQuery{
			label:  "hearts",
			path:   "/hearts",
			params: url.Values{"application_id": {v.clientID}, "is_downloadable": {"true"}},
		})
	}
	if v.includeOwn {
		out = append(out, vroidQuery{label: "own models", path: "/account/character_models", params: url.Values{}})
	}
	return out
}

// Search implements Source.
func (v *VRoid) Search(ctx context.Context, keywords []string, maxResults int) iter.Seq2[Candidate, error] {
	return singleUse(func(yield func(Candidate, error) bool) {
		col := newCollector(maxResults, yield, v.logger)
		for _, q := range v.queries(keywords) {
			if !col.more() || !v.pageThrough(ctx, col, q) {
				return
			}
		}
	})
}

// pageThrough follows _links.next.href until the query is exhausted.
func (v *VRoid) pageThrough(ctx context.Context, col *collector, q vroidQuery) bool {
	params := url.Values{}
	for key, values := range q.params {
		params[key] = values
	}
	params.Set("count", strconv.Itoa(min(col.remaining(), vroidPageSize)))
	next := withQuery(v.baseURL+q.path, params)

	for next != "" && col.more() {
		header, err := v.header(ctx)
		if err != nil {
			col.fail(err)
			return false
		}
		resp, err := v.client.Get(ctx, next, header)
		if err != nil {
			return col.queryFailed(q.label, err)
		}
		doc := gjson.ParseBytes(resp.Body)
		models := doc.Get("data").Array()
		if len(models) == 0 {
			break
		}
		for _, model := range models {
			if !col.offer(parseVRoidModel(model)) {
				return false
			}
		}
		next = resolveURL(v.baseURL, doc.Get("_links.next.href").String())
	}
	return col.more()
}

func parseVRoidModel(model gjson.Result) Candidate {
	id := model.Get("id").String()
	character := model.Get("character")

	name := character.Get("name").String()
	if name == "" {
		name = model.Get("name").String()
	}
	if name == "" {
		name = "Model " + id
	}
	artist := character.Get("user.name").String()
	if artist == "" {
		artist = model.Get("user.name").String()
	}
	if artist == "" {
		artist = "Unknown"
	}

	sourceURL := vroidWebBase + "/characters/" + id
	if charID := character.Get("id").String(); charID != "" {
		sourceURL = vroidWebBase + "/characters/" + charID + "/models/" + id
	}

	thumb := model.Get("portrait_image.w300.url").String()
	if thumb == "" {
		thumb = model.Get("portrait_image.original.url").String()
	}

	return Candidate{
		ItemID:       id,
		DisplayName:  textutil.CleanDisplayName(name),
		Artist:       artist,
		SourceURL:    sourceURL,
		Downloadable: model.Get("is_downloadable").Bool(),
		License:      vroidLicense(model.Get("license")),
		LicenseURL:   vroidLicenseURL,
		ThumbnailURL: thumb,
	}
}

func vroidLicense(license gjson.Result) string {
	modification := license.Get("modification").String()
	redistribution := license.Get("redistribution").String()
	commercial := license.Get("personal_commercial_use").String()
	if modification == "" && redistribution == "" && commercial == "" {
		return "VRoid Hub License"
	}
	orUnknown := func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	}
	return fmt.Sprintf("Modification: %s, Redistribution: %s, Commercial: %s",
		orUnknown(modification), orUnknown(redistribution), orUnknown(commercial))
}

// Download issues a download license and fetches the model it grants.
func (v *VRoid) Download(ctx context.Context, c Candidate, destDir string) (string, error) {
	header, err := v.header(ctx)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]string{"character_model_id": c.ItemID})
	if err != nil {
		return "", err
	}
	postHeader := header.Clone()
	postHeader.Set("Content-Type", "application/json")
	resp, err := v.client.Post(ctx, v.baseURL+"/download_licenses", postHeader, payload)
	if err != nil {
		return "", services.Wrap(services.ErrDownload, vroidName, "download license", c.ItemID, err)
	}
	licenseID := gjson.GetBytes(resp.Body, "data.id").String()
	if licenseID == "" {
		return "", services.Wrap(services.ErrDownload, vroidName, "download license",
			"no license id returned for model "+c.ItemID, nil)
	}

	dest := filepath.Join(destDir, "vroid_"+textutil.PathSegment(c.ItemID)+".vrm")
	raw, err := v.client.Do(ctx, httpclient.Request{
		Method:     http.MethodGet,
		URL:        v.baseURL + "/download_licenses/" + url.PathEscape(licenseID) + "/download",
		Header:     header,
		NoRedirect: true,
	})
	if err != nil {
		return "", services.Wrap(services.ErrDownload, vroidName, "download", c.ItemID, err)
	}

	switch {
	case raw.StatusCode >= 300 && raw.StatusCode < 400:
		location := raw.Header.Get("Location")
		_ = raw.Body.Close()
		if location == "" {
			return "", services.Wrap(services.ErrDownload, vroidName, "download", "redirect without Location", nil)
		}
		// The presigned storage URL must not receive the API token.
		if _, err := v.client.StreamToFile(ctx, resolveURL(v.baseURL, location), dest, nil); err != nil {
			return "", err
		}
	case raw.StatusCode == http.StatusOK:
		err := fileutil.WriteAtomic(dest, 0o644, func(w io.Writer) error {
			_, copyErr := io.Copy(w, raw.Body)
			return copyErr
		})
		_ = raw.Body.Close()
		if err != nil {
			return "", services.Wrap(services.ErrDownload, vroidName, "download", c.ItemID, err)
		}
	default:
		_ = raw.Body.Close()
		return "", services.Wrap(services.ErrDownload, vroidName, "download",
			fmt.Sprintf("unexpected status %d for model %s", raw.StatusCode, c.ItemID), nil)
	}
	return dest, nil
}

func (v *VRoid) header(ctx context.Context) (http.Header, error) {
	token, err := v.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return http.Header{
		"Authorization": {"Bearer " + token},
		"X-Api-Version": {vroidAPIVersion},
	}, nil
}

// accessToken returns a usable token, refreshing an expired one when a
// refresh token and client credentials are available.
func (v *VRoid) accessToken(ctx context.Context) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.tokens.Expired(v.now()) {
		return v.tokens.AccessToken, nil
	}
	if v.tokens.RefreshToken == "" || v.clientID == "" || v.clientSecret == "" {
		v.logger.Debug("access token expired and cannot be refreshed")
		return v.tokens.AccessToken, nil
	}

	resp, err := v.client.PostForm(ctx, v.tokenURL, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {v.clientID},
		"client_secret": {v.clientSecret},
		"refresh_token": {v.tokens.RefreshToken},
	}, http.Header{"X-Api-Version": {vroidAPIVersion}})
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, vroidName, "refresh token", "token refresh failed", err)
	}
	doc := gjson.ParseBytes(resp.Body)
	access := doc.Get("access_token").String()
	if access == "" {
		return "", services.Wrap(services.ErrConfiguration, vroidName, "refresh token", "no access_token in response", nil)
	}
	refreshed := Tokens{AccessToken: access, RefreshToken: v.tokens.RefreshToken}
	if rt := doc.Get("refresh_token").String(); rt != "" {
		refreshed.RefreshToken = rt
	}
	if expiresIn := doc.Get("expires_in").Int(); expiresIn > 0 {
		refreshed.ExpiresAt = v.now().Add(time.Duration(expiresIn) * time.Second).Unix()
	}
	v.tokens = refreshed
	v.logger.Info("access token refreshed")

	if v.tokenFile != "" {
		if err := SaveTokens(v.tokenFile, refreshed); err != nil {
			logging.WarnWithContext(v.logger, "failed to persist refreshed token", "token_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on "+v.tokenFile),
				logging.String(logging.FieldImpact, "token refreshes again next run"),
			)
		}
	}
	return access, nil
}
