package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var imageExts = []string{".jpg", ".jpeg"}

// DiscoverImages lists the JPEG files directly inside folder, sorted by name. Extensions
// match case-insensitively; subdirectories and other files are ignored.
func DiscoverImages(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("unable to read folder %q: %w", folder, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !slices.Contains(imageExts, ext) {
			continue
		}
		files = append(files, filepath.Join(folder, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// OutputPath maps an input image onto <dir>/<basename>.webp.
func OutputPath(dir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".webp")
}
