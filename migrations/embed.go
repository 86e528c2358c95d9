// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the schema files applied at process start.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed *.sql
var embeddedFiles embed.FS

// File is a single migration. Files apply in lexical order of their
// name, so every migration carries a zero-padded numeric prefix.
type File struct {
	Name string
	SQL  string
}

func Ordered() ([]File, error) {
	names, err := fs.Glob(embeddedFiles, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	files := make([]File, 0, len(names))
	for _, name := range names {
		body, err := embeddedFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		files = append(files, File{Name: name, SQL: string(body)})
	}

	return files, nil
}
