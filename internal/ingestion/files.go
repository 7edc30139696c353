package ingestion

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/draftwise/backend/pkg/utils"
)

// ReferenceID is stable for a scope and file name, so re-ingesting the same
// file replaces its chunks instead of adding a copy.
func ReferenceID(scopeID, name string) string {
	return "ref_" + utils.HashString(scopeID+"\x00"+filepath.ToSlash(name))[:24]
}

// FileInput reads and extracts one reference file. rel is the name used for
// the reference id and the fallback title.
func FileInput(scopeID, path, rel string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sourceType := DetectSourceType(path, "")
	extracted, err := Extract(sourceType, data)
	if err != nil {
		return Input{}, fmt.Errorf("failed to extract %s: %w", path, err)
	}

	title := extracted.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}
	return Input{
		ReferenceID: ReferenceID(scopeID, rel),
		ScopeID:     scopeID,
		Title:       title,
		SourceType:  sourceType,
		Text:        extracted.Text,
	}, nil
}

var ingestableExt = map[string]bool{
	".pdf": true, ".html": true, ".htm": true, ".xlsx": true, ".txt": true, ".md": true,
}

// WalkFiles lists ingestable files under dir in lexical order, skipping
// hidden entries.
func WalkFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && ingestableExt[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, nil
}
