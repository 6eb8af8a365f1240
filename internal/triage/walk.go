package triage

import (
	"os"
	"path"
	"path/filepath"
	"sort"
)

// walkFiles lists regular files under root as slash-separated relative paths,
// sorted. Traversal is a breadth-first queue bounded by maxDepth (1 = root
// only) and never follows symlinks.
func walkFiles(root string, maxDepth int) ([]string, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	type pending struct {
		rel   string
		depth int
	}
	queue := []pending{{rel: "", depth: 1}}
	var files []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(current.rel)))
		if err != nil {
			if current.rel == "" {
				return nil, err
			}
			continue
		}
		for _, entry := range entries {
			rel := path.Join(current.rel, entry.Name())
			switch {
			case entry.Type()&os.ModeSymlink != 0:
				continue
			case entry.IsDir():
				if current.depth < maxDepth {
					queue = append(queue, pending{rel: rel, depth: current.depth + 1})
				}
			case entry.Type().IsRegular():
				files = append(files, rel)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
