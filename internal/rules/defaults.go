package rules

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

// DefaultSources returns the bundled taxonomy.
func DefaultSources() Sources {
	read := func(name string) []byte {
		data, err := defaultFS.ReadFile("defaults/" + name)
		if err != nil {
			panic(fmt.Sprintf("embedded rules file %s missing: %v", name, err))
		}
		return data
	}
	return Sources{
		Categories: read(CategoriesFile),
		Cuisines:   read(CuisinesFile),
		Dietary:    read(DietaryFile),
		Usage:      read(UsageFile),
		Conflicts:  read(ConflictsFile),
	}
}

// WriteDefaults writes the bundled rule files into dir, leaving existing files
// untouched. It returns the paths it created.
func WriteDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rules directory: %w", err)
	}
	src := DefaultSources()
	files := []struct {
		name string
		data []byte
	}{
		{CategoriesFile, src.Categories},
		{CuisinesFile, src.Cuisines},
		{DietaryFile, src.Dietary},
		{UsageFile, src.Usage},
		{ConflictsFile, src.Conflicts},
	}

	var created []string
	for _, f := range files {
		target := filepath.Join(dir, f.name)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.WriteFile(target, f.data, 0o644); err != nil {
			return created, fmt.Errorf("writing %s: %w", target, err)
		}
		created = append(created, target)
	}
	return created, nil
}
