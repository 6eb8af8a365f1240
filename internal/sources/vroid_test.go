package sources_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
)

func timeAt(unix int64) time.Time {
	return time.Unix(unix, 0)
}

func vroidModel(id string, downloadable bool) map[string]any {
	return map[string]any{
		"id":              id,
		"is_downloadable": downloadable,
		"character": map[string]any{
			"id":   "c" + id,
			"name": "Avatar " + id,
			"user": map[string]any{"name": "artist" + id},
		},
		"license": map[string]any{
			"modification":            "allow",
			"redistribution":          "disallow",
			"personal_commercial_use": "profit",
		},
		"portrait_image": map[string]any{
			"w300":     map[string]any{"url": "https://img.example/" + id + "_300.png"},
			"original": map[string]any{"url": "https://img.example/" + id + ".png"},
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func vroidConfig(t *testing.T, srv *httptest.Server) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Sources.VRoid.BaseURL = srv.URL + "/api"
	cfg.Sources.VRoid.AccessToken = "tok"
	return cfg
}

func TestVRoidSearchPagesAndDedups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Api-Version"); got != "11" {
			t.Errorf("X-Api-Version = %q", got)
		}
		switch {
		case r.URL.Path == "/api/search/character_models" && r.URL.Query().Get("page") == "":
			if r.URL.Query().Get("keyword") != "miku cute" || r.URL.Query().Get("is_downloadable") != "true" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			writeJSON(t, w, map[string]any{
				"data":   []any{vroidModel("1", true), vroidModel("2", false)},
				"_links": map[string]any{"next": map[string]any{"href": "/api/search/character_models?page=2"}},
			})
		case r.URL.Path == "/api/search/character_models":
			writeJSON(t, w, map[string]any{
				"data": []any{vroidModel("1", true), vroidModel("3", true)},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src, err := sources.NewVRoid(vroidConfig(t, srv), logging.NewNop())
	if err != nil {
		t.Fatalf("NewVRoid failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), []string{"miku", "cute"}, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 || got[0].ItemID != "1" || got[1].ItemID != "3" {
		t.Fatalf("candidates = %v, want [1 3]", ids(got))
	}
	first := got[0]
	if first.DisplayName != "Avatar 1" || first.Artist != "artist1" {
		t.Fatalf("unexpected names: %+v", first)
	}
	if first.SourceURL != "https://hub.vroid.com/characters/c1/models/1" {
		t.Fatalf("source url = %q", first.SourceURL)
	}
	if first.License != "Modification: allow, Redistribution: disallow, Commercial: profit" {
		t.Fatalf("license = %q", first.License)
	}
	if first.ThumbnailURL != "https://img.example/1_300.png" {
		t.Fatalf("thumbnail = %q", first.ThumbnailURL)
	}
}

func TestVRoidSearchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"data":   []any{vroidModel("1", true), vroidModel("2", true), vroidModel("3", true)},
			"_links": map[string]any{"next": map[string]any{"href": "/api/staff_picks?page=2"}},
		})
	}))
	defer srv.Close()

	src, err := sources.NewVRoid(vroidConfig(t, srv), logging.NewNop())
	if err != nil {
		t.Fatalf("NewVRoid failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), nil, 2))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %v, want 2", ids(got))
	}
}

func TestVRoidUnauthorizedEndsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, err := sources.NewVRoid(vroidConfig(t, srv), logging.NewNop())
	if err != nil {
		t.Fatalf("NewVRoid failed: %v", err)
	}
	if _, err := collect(t, src.Search(context.Background(), nil, 5)); err == nil {
		t.Fatal("expected search error for 401")
	}
}

func TestVRoidDownloadFollowsLicenseRedirect(t *testing.T) {
	payload := []byte("vrm-model-bytes")
	var storageHits atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/download_licenses":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			var req map[string]string
			if err := json.Unmarshal(body, &req); err != nil || req["character_model_id"] != "42" {
				t.Errorf("license request body = %s", body)
			}
			writeJSON(t, w, map[string]any{"data": map[string]any{"id": "lic-1"}})
		case "/api/download_licenses/lic-1/download":
			http.Redirect(w, r, srv.URL+"/storage/model.vrm", http.StatusFound)
		case "/storage/model.vrm":
			storageHits.Add(1)
			if r.Header.Get("Authorization") != "" {
				t.Errorf("storage request carried Authorization header")
			}
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := vroidConfig(t, srv)
	src, err := sources.NewVRoid(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewVRoid failed: %v", err)
	}
	path, err := src.Download(context.Background(), sources.Candidate{ItemID: "42"}, cfg.Paths.RawDir)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if filepath.Base(path) != "vroid_42.vrm" {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(payload) {
		t.Fatalf("downloaded content = %q, %v", data, err)
	}
	if storageHits.Load() != 1 {
		t.Fatalf("storage hits = %d", storageHits.Load())
	}
}

func TestVRoidRefreshesExpiredToken(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			refreshes.Add(1)
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "old-refresh" {
				t.Errorf("unexpected refresh form %v", r.PostForm)
			}
			writeJSON(t, w, map[string]any{"access_token": "fresh", "refresh_token": "new-refresh", "expires_in": 3600})
		case "/api/staff_picks":
			if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
				t.Errorf("Authorization = %q", got)
			}
			writeJSON(t, w, map[string]any{"data": []any{vroidModel("7", true)}})
		default:
			writeJSON(t, w, map[string]any{"data": []any{}})
		}
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Sources.VRoid.BaseURL = srv.URL + "/api"
	cfg.Sources.VRoid.ClientID = "client"
	cfg.Sources.VRoid.ClientSecret = "secret"
	if err := sources.SaveTokens(cfg.Sources.VRoid.TokenFile, sources.Tokens{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("SaveTokens failed: %v", err)
	}

	src, err := sources.NewVRoid(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewVRoid failed: %v", err)
	}
	got, err := collect(t, src.Search(context.Background(), nil, 1))
	if err != nil || len(got) != 1 {
		t.Fatalf("Search = %v, %v", ids(got), err)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes.Load())
	}
	saved, err := sources.LoadTokens(cfg.Sources.VRoid.TokenFile)
	if err != nil {
		t.Fatalf("LoadTokens failed: %v", err)
	}
	if saved.AccessToken != "fresh" || saved.RefreshToken != "new-refresh" || saved.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("saved tokens = %+v", saved)
	}
}

func TestVRoidRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := sources.NewVRoid(cfg, logging.NewNop())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
