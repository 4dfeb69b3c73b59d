package util

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/pkg/errors"
)

// LocateFile searches the directories in order and returns the path of the
// first one that contains name.
//
// Arguments:
//   - name: File name, relative to each directory.
//   - dirs: Candidate directories, highest priority first.
//
// Returns:
//   - string: The path of the first match.
//   - error: ErrNotFound listing the searched directories when nothing matches.
func LocateFile(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", common.Errorf(common.ErrNotFound, "could not find %s in data directories %v", name, dirs)
}

// ReadFile reads a whole binary file that must not be empty.
//
// Arguments:
//   - path: The file to read.
//
// Returns:
//   - []byte: The file contents.
//   - error: ErrNotFound for a missing file, ErrIO when it is unreadable or empty.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.Wrapf(common.ErrNotFound, err, "read %s", path)
		}
		return nil, common.Wrapf(common.ErrIO, err, "read %s", path)
	}
	if len(data) == 0 {
		return nil, common.Errorf(common.ErrIO, "%s is empty", path)
	}
	return data, nil
}

// WriteFile replaces path with data. The bytes go to a temporary file in the
// same directory first so a failed write never leaves a truncated file behind.
//
// Arguments:
//   - path: Destination file.
//   - data: Contents to write.
//
// Returns:
//   - error: ErrIO when any step fails.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return common.Wrapf(common.ErrIO, err, "write %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return common.Wrapf(common.ErrIO, err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return common.Wrapf(common.ErrIO, err, "write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return common.WithKind(common.ErrIO, errors.Wrapf(err, "replace %s", path))
	}
	return nil
}
