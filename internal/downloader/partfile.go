package downloader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tanq16/keeper/internal/utils"
)

// OpenPartFile opens the partial file backing outputPath for concurrent
// WriteAt calls, pre-sizing it when size is known. fresh reports whether the
// file had to be created or resized, meaning earlier bytes cannot be trusted.
func OpenPartFile(outputPath string, size int64) (f *os.File, fresh bool, err error) {
	partPath := utils.PartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(partPath), 0755); err != nil {
		return nil, false, fmt.Errorf("error creating temp directory: %v", err)
	}
	info, statErr := os.Stat(partPath)
	fresh = statErr != nil
	f, err = os.OpenFile(partPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("error opening partial file: %v", err)
	}
	if size >= 0 && (fresh || info.Size() != size) {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("error allocating partial file: %v", err)
		}
		fresh = true
	}
	return f, fresh, nil
}

// FinalizePart moves the finished partial file to outputPath.
func FinalizePart(outputPath string) error {
	if err := os.Rename(utils.PartPath(outputPath), outputPath); err != nil {
		return fmt.Errorf("error moving partial file into place: %v", err)
	}
	return utils.RemovePart(outputPath)
}
