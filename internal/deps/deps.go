package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/coff33ninja/vrm-auto-scraper/internal/config"
)

// Requirement defines an external tool the scraper shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external tools used by triage and conversion.
// All are optional: zip archives extract natively and conversion is an
// explicit step.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "7-Zip",
			Command:     cfg.Triage.SevenZipBinary,
			Description: "Extracts rar and 7z archives",
			Optional:    true,
		},
		{
			Name:        "Blender",
			Command:     cfg.Converter.BlenderBinary,
			Description: "Converts fbx, obj, blend, and glTF models",
			Optional:    true,
		},
		{
			Name:        "FBX2glTF",
			Command:     cfg.Converter.FBX2glTFBinary,
			Description: "Fast fbx to glb conversion",
			Optional:    true,
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Command = path
		results = append(results, status)
	}
	return results
}
