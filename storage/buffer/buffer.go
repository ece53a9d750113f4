// Package buffer implements the paged buffer manager: the single component
// that owns every open file handle, caches pages across those files under a
// bounded slot budget, and enforces a pluggable replacement policy (LRU or
// CLOCK) on eviction. Every disk read or write in pagestore passes through
// here — the pager and the B+ tree never open a file themselves.
package buffer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"pagestore/storage/page"
	"pagestore/storage/storageerr"
)

const (
	// NonDataPage is the number of leading header pages reserved in every
	// file the manager opens.
	NonDataPage = 4

	// InitFilePageNum is both the size of the header region in pages and
	// the logical data-page count a freshly added file starts with.
	InitFilePageNum = 4

	// MetadataFilePageNum is the data page (1-indexed) that holds the
	// catalog's first-table UUID record.
	MetadataFilePageNum = 4

	// FirstUUIDOffset is the byte offset within MetadataFilePageNum that
	// holds the 16-byte UUID record.
	FirstUUIDOffset = 0

	freeBytesEntrySize = page.PtrSize
)

// PolicyKind selects a BufferManager's replacement policy.
type PolicyKind string

const (
	LRU   PolicyKind = "lru"
	Clock PolicyKind = "clock"
)

// cacheKey identifies one cached page.
type cacheKey struct {
	file    string
	pageNum uint64
}

// cacheEntry is one occupied slot.
type cacheEntry struct {
	key  cacheKey
	page *page.Page
}

// Position names a byte record placed by InsertBytes: a (file, data page#,
// byte offset within that page) triple. PageNum here is zero-indexed,
// matching the free-bytes table's internal indexing.
type Position struct {
	File    string
	PageNum uint64
	Offset  uint64
}

// BufferManager is the single owner of open files and the page cache.
type BufferManager struct {
	buffSize     int
	policy       Policy
	files        map[string]*os.File
	metaFileName string

	slots []*cacheEntry // len <= buffSize, index is the policy's "slot"
	index map[cacheKey]int
}

// New constructs a BufferManager with room for buffSize cached pages, opens
// or creates metaFileName as the catalog metadata file, and ensures it has
// at least MetadataFilePageNum data pages.
func New(buffSize int, policy PolicyKind, metaFileName string) (*BufferManager, error) {
	bm := &BufferManager{
		buffSize:     buffSize,
		files:        make(map[string]*os.File),
		metaFileName: metaFileName,
		index:        make(map[cacheKey]int, buffSize),
	}
	switch policy {
	case Clock:
		bm.policy = newClockPolicy(buffSize)
	default:
		bm.policy = newLRUPolicy(buffSize)
	}

	if f, err := os.OpenFile(metaFileName, os.O_RDWR, 0o644); err == nil {
		bm.files[metaFileName] = f
	} else if err := bm.AddFile(metaFileName); err != nil {
		return nil, err
	}

	if err := bm.FillUpTo(metaFileName, MetadataFilePageNum); err != nil {
		return nil, err
	}
	return bm, nil
}

// AddFile creates (or truncates and reinitializes) the file at path,
// writing the header region: the page-count field, and a free-bytes table
// whose first entry accounts for the header bytes already consumed by that
// count-and-table and whose remaining InitFilePageNum-1 entries start full.
func (bm *BufferManager) AddFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("buffer: add_file %q: %w", path, storageerr.ErrIO)
	}

	zero := make([]byte, InitFilePageNum*page.Size)
	if _, err := f.WriteAt(zero, 0); err != nil {
		return fmt.Errorf("buffer: add_file zero header %q: %w", path, storageerr.ErrIO)
	}

	header := make([]byte, 0, page.PtrSize*(1+InitFilePageNum))
	header = binary.BigEndian.AppendUint64(header, InitFilePageNum)
	firstEntry := uint64(page.Size - (NonDataPage*freeBytesEntrySize + freeBytesEntrySize))
	header = binary.BigEndian.AppendUint64(header, firstEntry)
	for i := 1; i < InitFilePageNum; i++ {
		header = binary.BigEndian.AppendUint64(header, page.Size)
	}
	if _, err := f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("buffer: add_file header %q: %w", path, storageerr.ErrIO)
	}

	bm.files[path] = f
	return nil
}

func (bm *BufferManager) file(name string) (*os.File, error) {
	f, ok := bm.files[name]
	if !ok {
		return nil, fmt.Errorf("buffer: %q: %w", name, storageerr.ErrFileNotFound)
	}
	return f, nil
}

func readUint64At(f *os.File, offset int64) (uint64, error) {
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("buffer: read u64 at %d: %w", offset, storageerr.ErrIO)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func writeUint64At(f *os.File, offset int64, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := f.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("buffer: write u64 at %d: %w", offset, storageerr.ErrIO)
	}
	return nil
}

// FillUpTo grows file so its logical data-page count reaches numOfPage,
// rejecting growth that would overflow the on-page free-bytes table.
func (bm *BufferManager) FillUpTo(fileName string, numOfPage uint64) error {
	f, err := bm.file(fileName)
	if err != nil {
		return err
	}

	pageNum, err := readUint64At(f, 0)
	if err != nil {
		return err
	}

	if page.Size < (InitFilePageNum+int(numOfPage)+1)*freeBytesEntrySize {
		return fmt.Errorf("buffer: fill_up_to %q to %d: %w", fileName, numOfPage, storageerr.ErrPageNumOutOfSize)
	}

	added := numOfPage - pageNum + InitFilePageNum
	zero := make([]byte, added*page.Size)
	if _, err := f.WriteAt(zero, int64(pageNum)*page.Size); err != nil {
		return fmt.Errorf("buffer: fill_up_to extend %q: %w", fileName, storageerr.ErrIO)
	}

	if err := writeUint64At(f, 0, InitFilePageNum+numOfPage); err != nil {
		return err
	}
	firstEntry := uint64(page.Size - (InitFilePageNum+int(numOfPage)+1)*freeBytesEntrySize)
	if err := writeUint64At(f, 8, firstEntry); err != nil {
		return err
	}
	base := int64(1+pageNum) * freeBytesEntrySize
	for i := uint64(0); i < added; i++ {
		if err := writeUint64At(f, base+int64(i)*freeBytesEntrySize, page.Size); err != nil {
			return err
		}
	}
	return nil
}

func (bm *BufferManager) readPageFromDisk(fileName string, pageNum uint64) (*page.Page, error) {
	f, err := bm.file(fileName)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, page.Size)
	offset := int64(pageNum-1+NonDataPage) * page.Size
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("buffer: read page %q#%d: %w", fileName, pageNum, storageerr.ErrIO)
	}
	return page.FromBytes(buf), nil
}

func (bm *BufferManager) writePageToDisk(fileName string, pageNum uint64, p *page.Page) error {
	f, err := bm.file(fileName)
	if err != nil {
		return err
	}
	offset := int64(pageNum-1+NonDataPage) * page.Size
	if _, err := f.WriteAt(p.Raw(), offset); err != nil {
		return fmt.Errorf("buffer: write page %q#%d: %w", fileName, pageNum, storageerr.ErrIO)
	}
	return nil
}

// place installs p under key in the cache, appending to a free slot or
// evicting a victim (writing its contents back first), and notes the
// insertion with the policy. Returns the slot used.
func (bm *BufferManager) place(key cacheKey, p *page.Page) (int, error) {
	if len(bm.slots) < bm.buffSize {
		slot := len(bm.slots)
		bm.slots = append(bm.slots, &cacheEntry{key: key, page: p})
		bm.index[key] = slot
		bm.policy.Insert(slot)
		return slot, nil
	}

	victim := bm.policy.Victim()
	old := bm.slots[victim]
	if err := bm.writePageToDisk(old.key.file, old.key.pageNum, old.page); err != nil {
		return 0, err
	}
	delete(bm.index, old.key)
	bm.slots[victim] = &cacheEntry{key: key, page: p}
	bm.index[key] = victim
	bm.policy.Insert(victim)
	return victim, nil
}

// GetPage returns a copy of the requested data page, reading it from disk
// on a cache miss.
func (bm *BufferManager) GetPage(fileName string, pageNum uint64) (*page.Page, error) {
	key := cacheKey{fileName, pageNum}
	if slot, ok := bm.index[key]; ok {
		bm.policy.Hit(slot)
		return page.FromBytes(bm.slots[slot].page.Raw()), nil
	}

	p, err := bm.readPageFromDisk(fileName, pageNum)
	if err != nil {
		return nil, err
	}
	if _, err := bm.place(key, p); err != nil {
		return nil, err
	}
	return page.FromBytes(p.Raw()), nil
}

// WritePage installs p as the current content of (fileName, pageNum) in the
// cache. The write reaches disk only on eviction or an explicit flush.
func (bm *BufferManager) WritePage(fileName string, pageNum uint64, p *page.Page) error {
	key := cacheKey{fileName, pageNum}
	if slot, ok := bm.index[key]; ok {
		bm.slots[slot].page = p
		bm.policy.Hit(slot)
		return nil
	}
	_, err := bm.place(key, p)
	return err
}

// Flush writes back one cached page, failing with ErrNotInBuffer if it is
// not currently cached.
func (bm *BufferManager) Flush(fileName string, pageNum uint64) error {
	key := cacheKey{fileName, pageNum}
	slot, ok := bm.index[key]
	if !ok {
		return fmt.Errorf("buffer: flush %q#%d: %w", fileName, pageNum, storageerr.ErrNotInBuffer)
	}
	return bm.writePageToDisk(fileName, pageNum, bm.slots[slot].page)
}

// FlushFile writes back every cached page belonging to fileName.
func (bm *BufferManager) FlushFile(fileName string) error {
	for _, e := range bm.slots {
		if e == nil || e.key.file != fileName {
			continue
		}
		if err := bm.writePageToDisk(e.key.file, e.key.pageNum, e.page); err != nil {
			return err
		}
	}
	return nil
}

// FlushAll writes back every cached page across every file.
func (bm *BufferManager) FlushAll() error {
	for _, e := range bm.slots {
		if e == nil {
			continue
		}
		if err := bm.writePageToDisk(e.key.file, e.key.pageNum, e.page); err != nil {
			return err
		}
	}
	return nil
}

// InsertBytes scans the free-bytes table for the first page with strictly
// more free space than len(bytes), writes bytes to that page's free tail,
// and returns its Position. A page with exactly len(bytes) free is skipped
// (the source's strict first-fit quirk, preserved deliberately). If nothing
// fits, the file is doubled and the insert retried.
func (bm *BufferManager) InsertBytes(fileName string, bytes []byte) (Position, error) {
	f, err := bm.file(fileName)
	if err != nil {
		return Position{}, err
	}
	length := uint64(len(bytes))

	pageNum, err := readUint64At(f, 0)
	if err != nil {
		return Position{}, err
	}
	base := int64(InitFilePageNum) * freeBytesEntrySize

	for i := uint64(0); i < pageNum; i++ {
		res, err := readUint64At(f, base+int64(i)*freeBytesEntrySize)
		if err != nil {
			return Position{}, err
		}
		if res > length {
			dataOffset := int64(InitFilePageNum)*page.Size + int64(i)*page.Size + int64(page.Size) - int64(res)
			if _, err := f.WriteAt(bytes, dataOffset); err != nil {
				return Position{}, fmt.Errorf("buffer: insert_bytes write %q: %w", fileName, storageerr.ErrIO)
			}
			if err := writeUint64At(f, base+int64(i)*freeBytesEntrySize, res-length); err != nil {
				return Position{}, err
			}
			return Position{File: fileName, PageNum: i, Offset: page.Size - res}, nil
		}
	}

	if err := bm.FillUpTo(fileName, 2*pageNum); err != nil {
		return Position{}, err
	}
	return bm.InsertBytes(fileName, bytes)
}

// ReadBytes reads size bytes from the position recorded by a prior
// InsertBytes, validating the page is still within the file's logical page
// count and the read doesn't run past the page boundary.
func (bm *BufferManager) ReadBytes(pos Position, size uint64) ([]byte, error) {
	f, err := bm.file(pos.File)
	if err != nil {
		return nil, err
	}

	pageNum, err := readUint64At(f, 0)
	if err != nil {
		return nil, err
	}
	if pos.PageNum+InitFilePageNum > pageNum {
		return nil, fmt.Errorf("buffer: read_bytes %q page %d: %w", pos.File, pos.PageNum, storageerr.ErrPageNumOutOfSize)
	}

	entryOffset := int64(InitFilePageNum+int(pos.PageNum)) * freeBytesEntrySize
	res, err := readUint64At(f, entryOffset)
	if err != nil {
		return nil, err
	}
	if res+pos.Offset > page.Size || pos.Offset+size > page.Size {
		return nil, fmt.Errorf("buffer: read_bytes %q page %d offset %d: %w", pos.File, pos.PageNum, pos.Offset, storageerr.ErrUnexpected)
	}

	buf := make([]byte, page.Size)
	dataOffset := int64(InitFilePageNum)*page.Size + int64(pos.PageNum)*page.Size
	if _, err := f.ReadAt(buf, dataOffset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("buffer: read_bytes %q page %d: %w", pos.File, pos.PageNum, storageerr.ErrIO)
	}
	return buf[pos.Offset : pos.Offset+size], nil
}

// GetFirstUUID returns the catalog's first-table UUID from the metadata
// file, as recorded by UpdateFirstUUID.
func (bm *BufferManager) GetFirstUUID() (uuid.UUID, error) {
	p, err := bm.GetPage(bm.metaFileName, MetadataFilePageNum)
	if err != nil {
		return uuid.UUID{}, err
	}
	raw, err := p.ReadBytes(FirstUUIDOffset, 16)
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("buffer: get_first_uuid: %w", storageerr.ErrUnexpected)
	}
	return id, nil
}

// UpdateFirstUUID writes id as the catalog's first-table UUID.
func (bm *BufferManager) UpdateFirstUUID(id uuid.UUID) error {
	p, err := bm.GetPage(bm.metaFileName, MetadataFilePageNum)
	if err != nil {
		return err
	}
	raw := id
	if err := p.WriteBytes(FirstUUIDOffset, raw[:], 16); err != nil {
		return err
	}
	return bm.WritePage(bm.metaFileName, MetadataFilePageNum, p)
}

// BuffSize reports the cache's slot capacity.
func (bm *BufferManager) BuffSize() int {
	return bm.buffSize
}

// Close closes every open file handle.
func (bm *BufferManager) Close() error {
	var first error
	for _, f := range bm.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
