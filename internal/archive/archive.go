// Package archive bundles anonymized documents into a single zip file.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"transcript-anonymizer/internal/anonymizer"
)

// DefaultName is the download name of a bundle.
const DefaultName = "anonymized_files.zip"

// File is one archive entry.
type File struct {
	Name string
	Data []byte
}

// Write writes files to w as a zip archive. Entry names are reduced to their
// base name and made unique: a second "a.txt" becomes "a (2).txt".
func Write(w io.Writer, files []File) error {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	names = UniqueNames(names)

	zw := zip.NewWriter(w)
	modified := time.Now()
	for i, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", names[i], err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("write %s: %w", names[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Bytes returns the zip archive of files.
func Bytes(files []File) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UniqueNames returns safe, distinct entry names in input order.
func UniqueNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		n = cleanName(n)
		candidate := n
		for k := 2; used[candidate]; k++ {
			candidate = Numbered(n, k)
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// Numbered returns the k-th alternative for name: "a.txt" becomes
// "a (k).txt".
func Numbered(name string, k int) string {
	stem, ext := anonymizer.SplitExt(name)
	return fmt.Sprintf("%s (%d)%s", stem, k, ext)
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "document"
	}
	return name
}
