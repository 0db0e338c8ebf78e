// Package archive builds and extracts the gzip tar payload of a capsule.
//
// Archives are reproducible: entries are written in lexical path order with
// zeroed timestamps and ownership, so the same tree always produces the
// same bytes (and therefore the same payload hash).
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnsafePath is returned when an archive entry would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Entry describes one archive member.
type Entry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Mode     int64  `json:"mode"`
	Type     string `json:"type"`
	Linkname string `json:"linkname,omitempty"`
}

// Entry types.
const (
	TypeFile    = "file"
	TypeDir     = "dir"
	TypeSymlink = "symlink"
)

// Tar archives dir into an in-memory gzip tarball. Paths are relative to
// dir and use forward slashes. Regular files, directories and symlinks are
// stored; sockets, devices and pipes are skipped.
func Tar(dir string) ([]byte, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive %s: not a directory", dir)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	// WalkDir visits entries in lexical order.
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return addEntry(tw, p, filepath.ToSlash(rel), d)
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive %s: close tar: %w", dir, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("archive %s: close gzip: %w", dir, err)
	}
	return buf.Bytes(), nil
}

func addEntry(tw *tar.Writer, fullPath, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	switch {
	case d.Type()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(fullPath); err != nil {
			return err
		}
	case d.IsDir(), d.Type().IsRegular():
	default:
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if d.IsDir() {
		hdr.Name += "/"
	}
	normalizeHeader(hdr)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !d.Type().IsRegular() {
		return nil
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// normalizeHeader strips everything host-specific from hdr.
func normalizeHeader(hdr *tar.Header) {
	hdr.ModTime = time.Unix(0, 0)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""
	hdr.Devmajor, hdr.Devminor = 0, 0
	hdr.PAXRecords = nil
	hdr.Mode &= 0o777
	if hdr.Typeflag == tar.TypeDir {
		hdr.Mode |= 0o700
	}
}

// List returns the entries of a gzip tarball without extracting it.
func List(data []byte) ([]Entry, error) {
	entries := []Entry{}
	err := walk(data, func(hdr *tar.Header, _ io.Reader) error {
		entries = append(entries, entryOf(hdr))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Untar extracts a gzip tarball into dest, creating it if needed. Entries
// with absolute paths, parent traversal, symlinks pointing outside dest, or
// a symlinked parent directory fail the whole extraction with
// ErrUnsafePath. All writes go through an os.Root, so a link planted by an
// earlier entry cannot carry a later one outside dest.
func Untar(data []byte, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	root, err := os.OpenRoot(dest)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	defer root.Close()

	return walk(data, func(hdr *tar.Header, r io.Reader) error {
		name, err := cleanName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		if err := checkParents(root, name); err != nil {
			return err
		}
		target := filepath.FromSlash(name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			return root.MkdirAll(target, dirMode(hdr))
		case tar.TypeReg:
			if err := mkParent(root, name); err != nil {
				return err
			}
			f, err := root.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, r); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		case tar.TypeSymlink:
			if err := checkLink(name, hdr.Linkname); err != nil {
				return err
			}
			if err := mkParent(root, name); err != nil {
				return err
			}
			return root.Symlink(hdr.Linkname, target)
		default:
			return nil
		}
	})
}

func walk(data []byte, fn func(hdr *tar.Header, r io.Reader) error) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
	}
}

func entryOf(hdr *tar.Header) Entry {
	e := Entry{
		Name: strings.TrimSuffix(hdr.Name, "/"),
		Size: hdr.Size,
		Mode: hdr.Mode,
		Type: TypeFile,
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		e.Type = TypeDir
	case tar.TypeSymlink:
		e.Type = TypeSymlink
		e.Linkname = hdr.Linkname
	}
	return e
}

// cleanName returns the slash-separated entry name, refusing absolute
// paths and anything that climbs out of the extraction root.
func cleanName(name string) (string, error) {
	if name == "" || path.IsAbs(name) || filepath.IsAbs(name) {
		return "", ErrUnsafePath
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrUnsafePath
	}
	return clean, nil
}

// checkParents refuses to extract beneath an existing symlink.
func checkParents(root *os.Root, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	prefix := ""
	for _, part := range strings.Split(dir, "/") {
		prefix = path.Join(prefix, part)
		info, err := root.Lstat(filepath.FromSlash(prefix))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return ErrUnsafePath
		}
	}
	return nil
}

func mkParent(root *os.Root, name string) error {
	dir := path.Dir(name)
	if dir == "." {
		return nil
	}
	return root.MkdirAll(filepath.FromSlash(dir), 0o755)
}

// checkLink refuses absolute link targets and targets that resolve,
// relative to the link's directory, outside the root.
func checkLink(name, linkname string) error {
	if linkname == "" || path.IsAbs(linkname) || filepath.IsAbs(linkname) {
		return ErrUnsafePath
	}
	resolved := path.Join(path.Dir(name), filepath.ToSlash(linkname))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return ErrUnsafePath
	}
	return nil
}

func dirMode(hdr *tar.Header) os.FileMode {
	return os.FileMode(hdr.Mode&0o777) | 0o700
}
