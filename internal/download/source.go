package download

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Asset is a loaded downloadable file.
type Asset struct {
	Data        []byte
	Size        int
	FromArchive bool
}

// Source resolves download names to file contents.
type Source interface {
	Load(name string) (*Asset, error)
}

const (
	pakMagic      = "PACK"
	pakHeaderLen  = 12
	pakEntryLen   = 64
	pakNameLen    = 56
	maxPakEntries = 4096
)

// archiveEntry locates one file inside an archive.
type archiveEntry struct {
	archive string
	offset  int64 // pak only
	length  int64
	zipped  *zip.File
}

// DirSource serves loose files under a root directory, falling back to the
// Quake II .pak archives and .pk3/.pkz/.zip archives found in the root.
// Archive indexes are built on first use; Reload discards them.
type DirSource struct {
	root   string
	logger zerolog.Logger

	mu      sync.Mutex
	index   map[string]archiveEntry
	zips    []*zip.ReadCloser
	indexed bool
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{
		root:   dir,
		logger: log.With().Str("component", "assets").Str("root", dir).Logger(),
	}
}

// Load implements Source. name must already be validated.
func (s *DirSource) Load(name string) (*Asset, error) {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	data, err := os.ReadFile(path)
	if err == nil {
		return &Asset{Data: data, Size: len(data)}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.indexed {
		s.buildIndex()
	}
	e, ok := s.index[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	data, err = s.readEntry(e)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, e.archive, err)
	}
	return &Asset{Data: data, Size: len(data), FromArchive: true}, nil
}

// Reload drops the archive indexes so new archives are picked up.
func (s *DirSource) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeZips()
	s.index = nil
	s.indexed = false
}

// Close releases open archives.
func (s *DirSource) Close() error {
	s.Reload()
	return nil
}

func (s *DirSource) closeZips() {
	for _, z := range s.zips {
		z.Close()
	}
	s.zips = nil
}

// buildIndex scans the root for archives. Earlier archives in name order
// win, .pak files before zip archives.
func (s *DirSource) buildIndex() {
	s.index = make(map[string]archiveEntry)
	s.indexed = true

	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to scan asset directory")
		return
	}

	var paks, zips []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pak":
			paks = append(paks, filepath.Join(s.root, e.Name()))
		case ".pk3", ".pkz", ".zip":
			zips = append(zips, filepath.Join(s.root, e.Name()))
		}
	}
	sort.Strings(paks)
	sort.Strings(zips)

	for _, p := range paks {
		n, err := s.indexPak(p)
		if err != nil {
			s.logger.Warn().Err(err).Str("archive", p).Msg("skipping bad pak")
			continue
		}
		s.logger.Debug().Str("archive", p).Int("files", n).Msg("indexed pak")
	}
	for _, p := range zips {
		n, err := s.indexZip(p)
		if err != nil {
			s.logger.Warn().Err(err).Str("archive", p).Msg("skipping bad zip")
			continue
		}
		s.logger.Debug().Str("archive", p).Int("files", n).Msg("indexed zip")
	}
}

func (s *DirSource) add(name string, e archiveEntry) bool {
	key := strings.ToLower(name)
	if _, exists := s.index[key]; exists {
		return false
	}
	s.index[key] = e
	return true
}

func (s *DirSource) indexPak(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var hdr [pakHeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, err
	}
	if string(hdr[:4]) != pakMagic {
		return 0, fmt.Errorf("bad pak magic %q", hdr[:4])
	}
	dirOfs := int64(binary.LittleEndian.Uint32(hdr[4:]))
	dirLen := int(binary.LittleEndian.Uint32(hdr[8:]))
	if dirLen%pakEntryLen != 0 || dirLen/pakEntryLen > maxPakEntries {
		return 0, fmt.Errorf("bad pak directory length %d", dirLen)
	}

	dir := make([]byte, dirLen)
	if _, err := f.ReadAt(dir, dirOfs); err != nil {
		return 0, fmt.Errorf("failed to read pak directory: %w", err)
	}

	n := 0
	for off := 0; off < dirLen; off += pakEntryLen {
		raw := dir[off : off+pakNameLen]
		if i := strings.IndexByte(string(raw), 0); i >= 0 {
			raw = raw[:i]
		}
		e := archiveEntry{
			archive: path,
			offset:  int64(binary.LittleEndian.Uint32(dir[off+pakNameLen:])),
			length:  int64(binary.LittleEndian.Uint32(dir[off+pakNameLen+4:])),
		}
		if s.add(string(raw), e) {
			n++
		}
	}
	return n, nil
}

func (s *DirSource) indexZip(path string) (int, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return 0, err
	}
	s.zips = append(s.zips, z)

	n := 0
	for _, f := range z.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if s.add(f.Name, archiveEntry{archive: path, length: int64(f.UncompressedSize64), zipped: f}) {
			n++
		}
	}
	return n, nil
}

func (s *DirSource) readEntry(e archiveEntry) ([]byte, error) {
	if e.zipped != nil {
		rc, err := e.zipped.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	f, err := os.Open(e.archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, e.length)
	if _, err := f.ReadAt(data, e.offset); err != nil {
		return nil, err
	}
	return data, nil
}

// MemSource serves assets from memory; it backs tests and embedded setups.
type MemSource struct {
	Files    map[string][]byte
	Archived map[string]bool
}

// Load implements Source.
func (m *MemSource) Load(name string) (*Asset, error) {
	data, ok := m.Files[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &Asset{Data: data, Size: len(data), FromArchive: m.Archived[name]}, nil
}
