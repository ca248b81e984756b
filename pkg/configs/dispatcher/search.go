package dispatcher

import (
	"errors"
	"os"
	"path/filepath"
)

// DefaultConfigFileName is the name of config file searched when no config is given.
const DefaultConfigFileName = "starlake-dispatch.yaml"

var ErrSearchFile = errors.New("could not search file")

// SearchUpward looks for fileName in dir and its ancestors, nearest first.
//
// When nothing is found, it returns ErrSearchFile.
func SearchUpward(dir string, fileName string) (string, error) {
	path := filepath.Join(dir, fileName)
	if stat, err := os.Stat(path); err == nil && !stat.IsDir() {
		return path, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		return "", ErrSearchFile
	}
	return SearchUpward(parent, fileName)
}
