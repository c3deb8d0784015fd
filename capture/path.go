/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned by Canonicalize when candidate resolves to
// a path outside root, whether directly (a leading "..") or via a
// symlink.
var ErrOutsideRoot = errors.New("capture: resolved path is outside the configured root")

// Canonicalize resolves candidate relative to root into an absolute,
// symlink-free path, refusing anything that escapes root. If mustExist
// is true, a missing file is reported as os.ErrNotExist and no
// directories are created. Otherwise, any missing parent directories
// are created (mode 0o777, matching the original's mkdir calls) before
// resolving, so a first-time capture into a nested measurement
// directory succeeds. Grounded on s_task_save_canonicalize_path.
func Canonicalize(root, candidate string, mustExist bool) (string, error) {
	if candidate == "" {
		return "", errors.New("capture: empty filename")
	}
	if strings.HasSuffix(candidate, "/") {
		return "", errors.New("capture: filename ends with /")
	}

	root = filepath.Clean(root)
	joined := filepath.Join(root, candidate)

	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		return requireWithinRoot(root, resolved)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if mustExist {
		return "", os.ErrNotExist
	}

	dir := filepath.Dir(joined)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", err
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(joined))
	return requireWithinRoot(root, resolved)
}

func requireWithinRoot(root, resolved string) (string, error) {
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}
