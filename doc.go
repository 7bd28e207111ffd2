// Package smbdat decodes the flat game-asset container used by Super Meat
// Boy's .dat archives and extracts its contents.
//
// An archive is a header followed by raw payload bytes. All integers are
// little-endian uint32:
//
//	folderCount
//	folderCount × { unused0, unused1 }
//	fileCount
//	fileCount × { offset, length, dirIndex }
//	folderTableLength, folderTable   // folderCount NUL-terminated names
//	fileTableLength, fileTable       // fileCount NUL-terminated names
//
// Names are paired with records purely by position. File names carry their
// full relative path, so placement never consults dirIndex. Offsets are
// absolute positions in the archive.
//
// # Quick Start
//
// List an archive:
//
//	a, err := smbdat.OpenFile("game.dat")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	for _, l := range smbdat.List(a.Catalog) {
//	    fmt.Println(l.Name, l.Length)
//	}
//
// Extract it:
//
//	stats, err := a.ExtractTo(ctx, "out")
//
// The package is read-only: there is no compression, encryption, or
// repack path.
package smbdat
