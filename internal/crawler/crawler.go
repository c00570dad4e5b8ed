package crawler

import (
	"io/fs"
	"os"
	"path/filepath"

	"funcmatch/internal/extractor"
)

// Crawler scans a directory tree for ELF binaries.
type Crawler struct {
	ignored []string
}

// NewCrawler creates a new crawler instance.
func NewCrawler() *Crawler {
	return &Crawler{
		ignored: []string{".git", "node_modules", "__pycache__"},
	}
}

// Scan walks root and calls onBinary for every regular file carrying the
// ELF magic, in lexical path order. Unreadable files are skipped; an error
// from onBinary stops the walk.
func (c *Crawler) Scan(root string, onBinary func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if !isELFFile(path) {
			return nil
		}
		return onBinary(path)
	})
}

// FindBinaries collects the paths Scan would visit.
func (c *Crawler) FindBinaries(root string) ([]string, error) {
	var paths []string
	err := c.Scan(root, func(path string) error {
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func isELFFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return extractor.IsELF(f)
}
