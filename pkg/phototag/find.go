package phototag

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Selection describes which files to tag.
type Selection struct {
	// Root is the input directory walked by All and Regex.
	Root string
	// Files are chosen explicitly.
	Files []string
	// All selects every file under Root.
	All bool
	// Regex selects files under Root whose Match form matches from the start.
	Regex string
	// Glob selects files matching a shell pattern, relative to Root.
	Glob string
	// Depth limits recursion below Root. Zero means Root only, -1 unlimited.
	Depth int
	// Match is the path form Regex is applied to: relative, absolute or filename.
	Match string
}

// Select resolves a selection into a deduplicated list of supported images.
func Select(s Selection) ([]string, error) {
	if s.Root == "" {
		s.Root = "."
	}
	files := append([]string{}, s.Files...)

	if s.All || s.Regex != "" {
		found, err := walk(s.Root, s.Depth)
		if err != nil {
			return nil, fmt.Errorf("walk: %w", err)
		}

		if s.All {
			files = append(files, found...)
		} else {
			re, err := regexp.Compile(s.Regex)
			if err != nil {
				return nil, fmt.Errorf("%w: regex: %v", ErrInvalidSelection, err)
			}
			for _, f := range found {
				m, err := matchForm(s.Root, f, s.Match)
				if err != nil {
					return nil, err
				}
				if loc := re.FindStringIndex(m); loc != nil && loc[0] == 0 {
					files = append(files, f)
				}
			}
		}
	}

	if s.Glob != "" && !s.All {
		pattern := s.Glob
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(s.Root, pattern)
		}
		ms, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: glob: %v", ErrInvalidSelection, err)
		}
		files = append(files, ms...)
	}

	seen := map[string]bool{}
	var uniq []string
	for _, f := range files {
		f = filepath.Clean(f)
		if seen[f] {
			continue
		}
		seen[f] = true
		uniq = append(uniq, f)
	}

	var selected []string
	for _, f := range uniq {
		if Supported(f) {
			selected = append(selected, f)
		}
	}

	if len(selected) == 0 {
		if len(uniq) == 0 {
			return nil, fmt.Errorf("%w: no files selected", ErrInvalidSelection)
		}
		return nil, fmt.Errorf("%w: none of the %d selected files is a supported image", ErrInvalidSelection, len(uniq))
	}
	klog.Infof("found %d valid images out of %d files selected", len(selected), len(uniq))
	return selected, nil
}

// walk returns regular files below root, skipping dotfiles and anything
// deeper than depth.
func walk(root string, depth int) ([]string, error) {
	found := []string{}
	root = filepath.Clean(root)

	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root {
				return nil
			}
			if filepath.Base(path)[0] == '.' {
				return godirwalk.SkipThis
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			if de.IsDir() {
				if depth >= 0 && strings.Count(rel, string(filepath.Separator))+1 > depth {
					return godirwalk.SkipThis
				}
				return nil
			}

			if de.IsRegular() {
				klog.V(2).Infof("found %s", path)
				found = append(found, path)
			}
			return nil
		},
	})
	return found, err
}

func matchForm(root string, path string, mode string) (string, error) {
	switch mode {
	case "", "relative":
		return filepath.Rel(root, path)
	case "absolute":
		return filepath.Abs(path)
	case "filename":
		return filepath.Base(path), nil
	}
	return "", fmt.Errorf("%w: invalid match mode %q", ErrInvalidSelection, mode)
}
