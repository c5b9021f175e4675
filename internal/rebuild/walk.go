package rebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"go.uber.org/zap"
)

// visitFunc is called for every directory and file under a walked root.
// Returning filepath.SkipDir from a directory skips its contents.
type visitFunc func(path string, isDir bool) error

// walkTree visits root and everything below it, skipping version control
// directories below root and editor temp files. Unreadable entries are
// logged and skipped.
func walkTree(ctx context.Context, root string, logger *zap.Logger, visit visitFunc) error {
	root = filepath.Clean(root)
	options := &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if ctx.Err() != nil {
				logger.Warn("walk canceled", zap.String("path", path))
				return ctx.Err()
			}
			if de.IsDir() {
				if path != root && isIgnoredDir(de.Name()) {
					return filepath.SkipDir
				}
				return visit(path, true)
			}
			if isTempFile(de.Name()) {
				return nil
			}
			return visit(path, false)
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if ctx.Err() != nil {
				return godirwalk.Halt
			}
			logger.Warn("walk error", zap.String("path", path), zap.Error(err))
			return godirwalk.SkipNode
		},
	}
	return godirwalk.Walk(root, options)
}

// checkDir confirms dir exists and is a directory.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
