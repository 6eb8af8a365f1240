package classify

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/coff33ninja/vrm-auto-scraper/internal/textutil"
)

const (
	CategoryWeapon    = "weapon"
	CategoryAccessory = "accessory"

	strategyFuzzy = "fuzzy"
)

// WeaponTerms are matched against path tokens and categorized as weapons.
var WeaponTerms = []string{
	"sword", "katana", "blade", "dagger", "knife",
	"gun", "pistol", "rifle", "shotgun", "revolver",
	"axe", "hammer", "mace", "spear", "bow", "arrow",
	"weapon", "armament", "scythe", "staff", "wand",
}

// AccessoryTerms are matched against path tokens and categorized as accessories.
var AccessoryTerms = []string{
	"prop", "accessory", "item", "object",
	"clothing", "outfit", "costume", "dress", "shirt",
	"hair", "wig", "hat", "glasses", "mask",
	"stage", "background", "scene", "room", "environment",
	"effect", "particle", "aura",
}

// Fuzzy scores file names against the weapon and accessory term lists.
type Fuzzy struct {
	threshold int
	weapons   []string
	others    []string
}

// NewFuzzy builds a fuzzy classifier. threshold is the minimum 0..100
// similarity a token must reach.
func NewFuzzy(threshold int) *Fuzzy {
	return &Fuzzy{
		threshold: threshold,
		weapons:   WeaponTerms,
		others:    AccessoryTerms,
	}
}

// Match returns the best term for text, its score, and category. An empty
// term means nothing reached the threshold.
func (f *Fuzzy) Match(text string) (string, int, string) {
	var (
		bestTerm     string
		bestScore    int
		bestCategory string
	)
	for _, token := range textutil.Tokenize(text) {
		for _, group := range []struct {
			terms    []string
			category string
		}{{f.weapons, CategoryWeapon}, {f.others, CategoryAccessory}} {
			for _, term := range group.terms {
				score := int(math.Round(textutil.Ratio(token, term)))
				if score > bestScore {
					bestTerm, bestScore, bestCategory = term, score, group.category
				}
			}
		}
	}
	if bestScore < f.threshold || bestTerm == "" {
		return "", 0, ""
	}
	return bestTerm, bestScore, bestCategory
}

// Classify checks the file stem first, then each parent directory name.
func (f *Fuzzy) Classify(_ context.Context, filePath, _ string) (Result, error) {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	term, score, category := f.Match(stem)
	if term == "" {
		dir := filepath.Dir(filePath)
		for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
			if term, score, category = f.Match(part); term != "" {
				break
			}
		}
	}
	if term == "" {
		return Result{
			Reason:     "No fuzzy match found",
			Strategies: []string{strategyFuzzy},
		}, nil
	}
	return Result{
		ShouldSkip: true,
		Confidence: float64(score) / 100,
		Category:   category,
		Reason:     fmt.Sprintf("Fuzzy match: '%s' (score: %d)", term, score),
		Strategies: []string{strategyFuzzy},
	}, nil
}
