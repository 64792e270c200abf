package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// archiveModTime is stamped on every entry so identical trees produce
// identical archives.
var archiveModTime = time.Unix(0, 0).UTC()

var absPath = filepath.Abs

// Archive writes every regular file under root, in sorted path order, into
// a gzip-compressed tar at dest. Entry names are relative to root with
// forward slashes. dest is skipped when it lives inside root.
// Returns the archived entry names.
func Archive(root, dest string) ([]string, error) {
	rootAbs, err := absPath(root)
	if err != nil {
		return nil, story.NewConfigurationError("resolve deploy root", root, err)
	}
	destAbs, err := absPath(dest)
	if err != nil {
		return nil, story.NewConfigurationError("resolve archive path", dest, err)
	}

	files, err := regularFiles(root)
	if err != nil {
		return nil, story.NewConfigurationError("walk deploy root", root, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, story.NewConfigurationError("create dir", filepath.Dir(dest), err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, story.NewConfigurationError("create archive", dest, err)
	}

	names, werr := writeArchive(out, rootAbs, files, destAbs)
	if cerr := out.Close(); werr == nil && cerr != nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(dest)
		return nil, story.NewConfigurationError("write archive", dest, werr)
	}
	return names, nil
}

func writeArchive(w io.Writer, root string, files []string, skip string) ([]string, error) {
	gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(gz)

	var names []string
	for _, rel := range files {
		abs := filepath.Join(root, rel)
		if abs == skip {
			continue
		}
		name := filepath.ToSlash(rel)
		if err := addEntry(tw, abs, name); err != nil {
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
		names = append(names, name)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return names, nil
}

func addEntry(tw *tar.Writer, abs, name string) error {
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  archiveModTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

// regularFiles lists regular files under root relative to it, sorted.
func regularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return filepath.ToSlash(files[i]) < filepath.ToSlash(files[j])
	})
	return files, nil
}
