// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package utils provides shared helpers used across the process engine.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureOutputDir ensures a FILE_OPERATION local-storage output directory
// exists, creating it (and any parents) if necessary. An empty or "."
// basePath resolves to "./output".
//
// Returns the resolved directory path and any error.
func EnsureOutputDir(basePath string) (string, error) {
	dir := basePath
	if dir == "" || dir == "." {
		dir = "output"
	}
	dir = filepath.Clean(dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %q: %w", dir, err)
	}

	return dir, nil
}
