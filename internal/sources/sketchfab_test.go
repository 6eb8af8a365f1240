package sources_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/coff33ninja/vrm-auto-scraper/internal/logging"
	"github.com/coff33ninja/vrm-auto-scraper/internal/sources"
	"github.com/coff33ninja/vrm-auto-scraper/internal/testsupport"
)

func sketchfabModel(uid, slug string, downloadable bool) map[string]any {
	return map[string]any{
		"uid":            uid,
		"name":           "Model " + uid,
		"isDownloadable": downloadable,
		"viewerUrl":      "https://sketchfab.com/3d-models/" + uid,
		"user":           map[string]any{"displayName": "maker " + uid},
		"license":        map[string]any{"slug": slug, "label": "Label " + slug},
		"thumbnails": map[string]any{"images": []any{
			map[string]any{"url": "https://media.example/" + uid + "_100.jpg", "width": 100},
			map[string]any{"url": "https://media.example/" + uid + "_640.jpg", "width": 640},
		}},
	}
}

// newSketchfabServer answers searches with a license mix across two pages.
func newSketchfabServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token sk-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/v3/search" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("cursor") == "" {
			writeJSON(t, w, map[string]any{
				"results": []any{
					sketchfabModel("ccby", "cc-by", true),
					sketchfabModel("std", "standard", true),
					sketchfabModel("locked", "cc0", false),
				},
				"next": srv.URL + "/v3/search?cursor=2&q=" + r.URL.Query().Get("q"),
			})
			return
		}
		writeJSON(t, w, map[string]any{
			"results": []any{sketchfabModel("ccby", "cc-by", true), sketchfabModel("open", "", true)},
			"next":    nil,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSketchfabSearchFiltersLicenses(t *testing.T) {
	srv := newSketchfabServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Sources.Sketchfab.APIToken = "sk-token"
	cfg.Sources.Sketchfab.BaseURL = srv.URL + "/v3"
	src, err := sources.NewSketchfab(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSketchfab failed: %v", err)
	}

	got, err := collect(t, src.Search(context.Background(), []string{"miku"}, 10))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 || got[0].ItemID != "ccby" || got[1].ItemID != "open" {
		t.Fatalf("candidates = %v, want [ccby open]", ids(got))
	}
	if got[0].ThumbnailURL != "https://media.example/ccby_640.jpg" {
		t.Fatalf("thumbnail = %q", got[0].ThumbnailURL)
	}
	if got[0].Artist != "maker ccby" || got[0].License != "Label cc-by" {
		t.Fatalf("unexpected candidate %+v", got[0])
	}
}

func TestSketchfabDownloadPrefersGLB(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		wantExt string
	}{
		{
			name:    "glb export",
			info:    map[string]any{"glb": map[string]any{"url": "/files/model.glb"}, "gltf": map[string]any{"url": "/files/model.zip"}},
			wantExt: ".glb",
		},
		{
			name:    "zipped gltf export",
			info:    map[string]any{"gltf": map[string]any{"url": "/files/model.zip"}},
			wantExt: ".zip",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var srv *httptest.Server
			srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/v3/models/uid1/download":
					info := map[string]any{}
					for kind, v := range tt.info {
						entry := v.(map[string]any)
						info[kind] = map[string]any{"url": srv.URL + entry["url"].(string)}
					}
					writeJSON(t, w, info)
				case "/files/model.glb", "/files/model.zip":
					if r.Header.Get("Authorization") != "" {
						t.Errorf("storage request carried Authorization header")
					}
					_, _ = w.Write([]byte("payload " + r.URL.Path))
				default:
					http.NotFound(w, r)
				}
			}))
			defer srv.Close()

			cfg := testsupport.NewConfig(t)
			cfg.Sources.Sketchfab.APIToken = "sk-token"
			cfg.Sources.Sketchfab.BaseURL = srv.URL + "/v3"
			src, err := sources.NewSketchfab(cfg, logging.NewNop())
			if err != nil {
				t.Fatalf("NewSketchfab failed: %v", err)
			}
			path, err := src.Download(context.Background(), sources.Candidate{ItemID: "uid1"}, cfg.Paths.RawDir)
			if err != nil {
				t.Fatalf("Download failed: %v", err)
			}
			if filepath.Base(path) != "sketchfab_uid1"+tt.wantExt {
				t.Fatalf("path = %q", path)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("downloaded file missing: %v", err)
			}
		})
	}
}

func TestSketchfabDownloadWithoutExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Sources.Sketchfab.APIToken = "sk-token"
	cfg.Sources.Sketchfab.BaseURL = srv.URL + "/v3"
	src, err := sources.NewSketchfab(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewSketchfab failed: %v", err)
	}
	if _, err := src.Download(context.Background(), sources.Candidate{ItemID: "uid1"}, cfg.Paths.RawDir); err == nil {
		t.Fatal("expected error when no export is offered")
	}
}
