// Package pfs parses and decrypts a PlayStation Vita protected filesystem
// (PFS) image.
//
// # Overview
//
// A PFS image is a title directory containing an encrypted, integrity
// protected file hierarchy: a files.db blob describing the logical
// directory tree and its hash tree, an integrity database (unicv.db or
// icv.db/) holding per-sector ICVs for every protected file, and the
// payload files themselves laid out under obfuscated-case paths.
//
// Mount parses and validates files.db and the integrity database, links
// logical paths to their real on-disk counterparts, and brute-forces the
// integrity-table-to-file binding. DecryptFiles then streams every bound
// file's sectors into a destination tree, verifying each sector's ICV as
// it goes.
//
// # Basic usage
//
//	cfg := &pfs.Config{
//	    Source:       osfs.New(),
//	    Dest:         osfs.New(),
//	    TitleRoot:    "/titles/PCSG00000",
//	    DestRoot:     "/out/PCSG00000",
//	    KlicenseeHex: "0123456789abcdef0123456789abcdef",
//	    KeyEncryptor: keyenc.NewFileEncryptor(pairs),
//	}
//
//	logger := pfs.NewLogger(os.Stderr, false)
//	mounted, err := pfs.Mount(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := pfs.DecryptFiles(cfg, mounted, mounted.Db.Header.ImageSpec, logger); err != nil {
//	    log.Fatal(err)
//	}
package pfs
