package preflight

import (
	"os"
	"strings"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// CheckSourceCredentials reports, per enabled source, whether the
// configuration carries what its adapter needs. No network calls are made.
func CheckSourceCredentials(cfg *config.Config) []Result {
	results := make([]Result, 0, len(cfg.Sources.Enabled))
	for _, name := range cfg.Sources.Enabled {
		results = append(results, checkSource(cfg, name))
	}
	return results
}

func checkSource(cfg *config.Config, name string) Result {
	label := name + " credentials"
	switch name {
	case "vroid":
		v := cfg.Sources.VRoid
		if set(v.AccessToken) {
			return Result{Name: label, Passed: true, Detail: "access token configured"}
		}
		if v.TokenFile != "" {
			if _, err := os.Stat(v.TokenFile); err == nil {
				return Result{Name: label, Passed: true, Detail: "token file " + v.TokenFile}
			}
		}
		return Result{Name: label, Detail: "no access token; set VROID_ACCESS_TOKEN or provide a token file"}
	case "sketchfab":
		if set(cfg.Sources.Sketchfab.APIToken) {
			return Result{Name: label, Passed: true, Detail: "API token configured"}
		}
		return Result{Name: label, Detail: "missing API token; set SKETCHFAB_API_TOKEN"}
	case "github":
		if set(cfg.Sources.GitHub.Token) {
			return Result{Name: label, Passed: true, Detail: "token configured (code search)"}
		}
		return Result{Name: label, Passed: true, Detail: "no token; walking fallback repositories only"}
	case "deviantart":
		d := cfg.Sources.DeviantArt
		if set(d.AccessToken) {
			return Result{Name: label, Passed: true, Detail: "access token configured"}
		}
		if set(d.ClientID) && set(d.ClientSecret) {
			return Result{Name: label, Passed: true, Detail: "client credentials configured"}
		}
		return Result{Name: label, Detail: "missing client id/secret; set DEVIANTART_CLIENT_ID and DEVIANTART_CLIENT_SECRET"}
	default:
		return Result{Name: label, Detail: "unknown source"}
	}
}

func endpointFor(cfg *config.Config, name string) string {
	switch name {
	case "vroid":
		return cfg.Sources.VRoid.BaseURL
	case "sketchfab":
		return cfg.Sources.Sketchfab.BaseURL
	case "github":
		return cfg.Sources.GitHub.BaseURL
	case "deviantart":
		return cfg.Sources.DeviantArt.BaseURL
	default:
		return ""
	}
}

func set(value string) bool {
	return strings.TrimSpace(value) != ""
}
