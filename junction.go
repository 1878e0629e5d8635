package pfs

import (
	"os"
	"path"
	"strings"

	"github.com/absfs/absfs"
)

// Junction binds a files.db logical path to the case-obfuscated real path
// it actually lives at on disk, the Go analogue of sce_junction.
type Junction struct {
	LogicalPath string
	RealPath    string
}

// isEqualFold is the case-insensitive comparison sce_junction::is_equal
// runs (upper-casing both sides before comparing).
func isEqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// excludedTopLevel names directories directly under a title root that
// real-path enumeration must skip: the PFS metadata directory. The
// sce_sys/package staging directory is skipped separately in
// listRealPaths.
var excludedTopLevel = map[string]bool{
	"sce_pfs": true,
}

// listRealPaths walks fs under root, returning every real file and
// directory path, excluding sce_pfs, sce_sys/package, and the contents of
// any directory directly under sce_sys that holds a nested PFS image
// (marked by a "keystone" file). The title's own sce_sys/keystone is kept.
func listRealPaths(fs absfs.FileSystem, root string) ([]string, error) {
	var out []string
	var walk func(dir string) error
	walk = func(dir string) error {
		f, err := fs.Open(dir)
		if err != nil {
			return &IoError{Op: "open", Path: dir, Err: err}
		}
		entries, err := f.Readdir(-1)
		f.Close()
		if err != nil {
			return &IoError{Op: "readdir", Path: dir, Err: err}
		}

		dirRel := strings.TrimPrefix(strings.TrimPrefix(dir, root), "/")
		if path.Dir(dirRel) == "sce_sys" && containsKeystone(entries) {
			return nil
		}

		for _, e := range entries {
			full := path.Join(dir, e.Name())
			rel := strings.TrimPrefix(strings.TrimPrefix(full, root), "/")

			if dir == root && excludedTopLevel[e.Name()] {
				continue
			}
			if rel == "sce_sys/package" {
				continue
			}

			out = append(out, full)
			if e.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

func containsKeystone(entries []os.FileInfo) bool {
	for _, e := range entries {
		if !e.IsDir() && e.Name() == "keystone" {
			return true
		}
	}
	return false
}

// bindJunctions matches every logical path (dir and file) from a files.db
// tree against the real, case-obfuscated on-disk paths, case-folding both
// sides. It returns one Junction per logical entry and the count of real
// paths with no logical counterpart (a warning, never fatal).
func bindJunctions(logicalPaths []string, realPaths []string) (map[string]Junction, int, error) {
	folded := make(map[string]string, len(realPaths))
	for _, rp := range realPaths {
		key := strings.ToUpper(rp)
		if existing, ok := folded[key]; ok && existing != rp {
			return nil, 0, &PathUnresolved{LogicalPath: rp}
		}
		folded[key] = rp
	}

	bindings := make(map[string]Junction, len(logicalPaths))
	matched := make(map[string]bool, len(realPaths))

	for _, lp := range logicalPaths {
		key := strings.ToUpper(lp)
		rp, ok := folded[key]
		if !ok {
			return nil, 0, &PathUnresolved{LogicalPath: lp}
		}
		bindings[lp] = Junction{LogicalPath: lp, RealPath: rp}
		matched[rp] = true
	}

	extra := 0
	for _, rp := range realPaths {
		if !matched[rp] {
			extra++
		}
	}

	return bindings, extra, nil
}
