package pfs

import (
	"io"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/absfs/absfs"

	"github.com/psvpfs/pfsdec/internal/crypto"
	"github.com/psvpfs/pfsdec/internal/icvdb"
)

// Mounted is the fully parsed, validated image state Mount produces: the
// files.db tree, the integrity database, every junction, and the
// brute-forced table-to-file bindings. Nothing in it is mutated again;
// DecryptFiles is a pure consumer of it.
type Mounted struct {
	Db        *FilesDb
	Klicensee Klicensee
	Junctions map[string]Junction
	Bindings  []Binding
	NumExtra  int
}

// Mount runs the sequential setup phase: parse files.db, parse the
// integrity database, enumerate and bind real paths, brute-force the
// table-to-file mapping. It never touches the destination tree.
func Mount(cfg *Config, logger *zap.Logger) (*Mounted, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	klicensee, err := cfg.ResolveKlicensee()
	if err != nil {
		return nil, err
	}
	cp := crypto.New()

	filesDbPath := path.Join(cfg.TitleRoot, "sce_pfs", "files.db")
	f, err := cfg.Source.Open(filesDbPath)
	if err != nil {
		return nil, &IoError{Op: "open", Path: filesDbPath, Err: err}
	}
	defer f.Close()

	db, err := ParseFilesDb(f, cp, klicensee, cfg.KeyEncryptor, logger)
	if err != nil {
		return nil, err
	}

	idb, err := openIntegrityDb(cfg.Source, cfg.TitleRoot, logger)
	if err != nil {
		return nil, err
	}

	logicalPaths := make([]string, 0, len(db.Dirs)+len(db.Files))
	logicalByIdx := make(map[uint32]string)
	for _, d := range db.Dirs {
		p, err := db.Path(d)
		if err != nil {
			return nil, err
		}
		logicalPaths = append(logicalPaths, path.Join(cfg.TitleRoot, p))
		logicalByIdx[d.Idx] = path.Join(cfg.TitleRoot, p)
	}
	for _, fb := range db.Files {
		p, err := db.Path(fb)
		if err != nil {
			return nil, err
		}
		logicalPaths = append(logicalPaths, path.Join(cfg.TitleRoot, p))
		logicalByIdx[fb.Idx] = path.Join(cfg.TitleRoot, p)
	}

	realPaths, err := listRealPaths(cfg.Source, cfg.TitleRoot)
	if err != nil {
		return nil, err
	}

	junctions, extra, err := bindJunctions(logicalPaths, realPaths)
	if err != nil {
		return nil, err
	}
	if extra > 0 {
		logger.Warn("files exist on disk with no files.db entry", zap.Int("count", extra))
	}

	// MapPages and the decrypt tasks that follow must read from the real,
	// case-obfuscated on-disk path, never the logical files.db path: that
	// is the whole reason junctions exist.
	realByIdx := make(map[uint32]string, len(logicalByIdx))
	for idx, lp := range logicalByIdx {
		j, ok := junctions[lp]
		if !ok {
			return nil, &PathUnresolved{LogicalPath: lp}
		}
		realByIdx[idx] = j.RealPath
	}

	readFirstSector := func(p string, sectorSize uint32) ([]byte, error) {
		file, err := cfg.Source.Open(p)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		buf := make([]byte, sectorSize)
		if _, err := io.ReadFull(file, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	var encryptedFiles []FlatBlock
	for _, fb := range db.Files {
		if fb.Info.Type.IsEncryptedFile() {
			encryptedFiles = append(encryptedFiles, fb)
		}
	}

	bindings, err := MapPages(cp, cfg.KeyEncryptor, klicensee, db.Header.ImageSpec, idb.Tables(), encryptedFiles, realByIdx, readFirstSector, logger, os.Stderr)
	if err != nil {
		return nil, err
	}

	return &Mounted{Db: db, Klicensee: klicensee, Junctions: junctions, Bindings: bindings, NumExtra: extra}, nil
}

// openIntegrityDb dispatches to the unified unicv.db parser or the split
// icv.db directory parser, whichever the title carries.
func openIntegrityDb(fs absfs.FileSystem, titleRoot string, logger *zap.Logger) (icvdb.Database, error) {
	unicvPath := path.Join(titleRoot, "sce_pfs", "unicv.db")
	if f, err := fs.Open(unicvPath); err == nil {
		defer f.Close()
		logger.Info("parsing unicv.db")
		return icvdb.ParseUnified(f)
	}

	icvDirPath := path.Join(titleRoot, "sce_pfs", "icv.db")
	dir, err := fs.Open(icvDirPath)
	if err != nil {
		return nil, &IoError{Op: "open", Path: icvDirPath, Err: err}
	}
	defer dir.Close()
	entries, err := dir.Readdir(-1)
	if err != nil {
		return nil, &IoError{Op: "readdir", Path: icvDirPath, Err: err}
	}

	logger.Info("parsing icv.db directory", zap.Int("entries", len(entries)))

	var tables []*icvdb.Table
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entryPath := path.Join(icvDirPath, e.Name())
		ef, err := fs.Open(entryPath)
		if err != nil {
			return nil, &IoError{Op: "open", Path: entryPath, Err: err}
		}
		t, err := icvdb.ParseSplit(e.Name(), ef, nameHash(e.Name()))
		ef.Close()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return icvdb.NewSplitDatabase(tables), nil
}

func nameHash(name string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211
	}
	return h
}

// DecryptFiles emits the plaintext tree for a Mounted image into
// cfg.Dest, using a bounded worker pool across bindings. Unencrypted
// files and empty files are copied/created directly; directories are
// created empty first.
func DecryptFiles(cfg *Config, m *Mounted, spec ImageSpec, logger *zap.Logger) error {
	cp := crypto.New()

	for _, d := range m.Db.Dirs {
		p, err := m.Db.Path(d)
		if err != nil {
			return err
		}
		destPath := path.Join(cfg.DestRoot, p)
		if err := cfg.Dest.MkdirAll(destPath, 0o755); err != nil {
			return &IoError{Op: "mkdir", Path: destPath, Err: err}
		}
	}

	var tasks []decryptTask
	for _, b := range m.Bindings {
		b := b
		destRel, err := m.Db.Path(b.File)
		if err != nil {
			return err
		}
		destPath := path.Join(cfg.DestRoot, destRel)

		tasks = append(tasks, func() error {
			src, err := cfg.Source.Open(b.Path)
			if err != nil {
				return &IoError{Op: "open", Path: b.Path, Err: err}
			}
			defer src.Close()

			dst, err := cfg.Dest.Create(destPath)
			if err != nil {
				return &IoError{Op: "create", Path: destPath, Err: err}
			}
			defer dst.Close()

			return DecryptFile(cp, cfg.KeyEncryptor, m.Klicensee, spec, b, src, dst)
		})
	}

	for _, f := range m.Db.Files {
		if f.Info.Size == 0 {
			continue
		}
		if !f.Info.Type.IsUnencryptedFile() {
			continue
		}
		destRel, err := m.Db.Path(f)
		if err != nil {
			return err
		}
		logicalPath := path.Join(cfg.TitleRoot, destRel)
		junction, ok := m.Junctions[logicalPath]
		if !ok {
			return &PathUnresolved{LogicalPath: logicalPath}
		}
		destPath := path.Join(cfg.DestRoot, destRel)

		src, err := cfg.Source.Open(junction.RealPath)
		if err != nil {
			return &IoError{Op: "open", Path: junction.RealPath, Err: err}
		}
		dst, err := cfg.Dest.Create(destPath)
		if err != nil {
			src.Close()
			return &IoError{Op: "create", Path: destPath, Err: err}
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return &IoError{Op: "copy", Path: junction.RealPath, Err: copyErr}
		}
	}

	for _, f := range m.Db.Files {
		if f.Info.Size != 0 {
			continue
		}
		destRel, err := m.Db.Path(f)
		if err != nil {
			return err
		}
		destPath := path.Join(cfg.DestRoot, destRel)
		out, err := cfg.Dest.Create(destPath)
		if err != nil {
			return &IoError{Op: "create", Path: destPath, Err: err}
		}
		out.Close()
	}

	return runDecryptPool(tasks, cfg.Workers, logger)
}

