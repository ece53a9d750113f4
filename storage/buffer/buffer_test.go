package buffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"pagestore/storage/page"
)

func newTestManager(t *testing.T, buffSize int, policy PolicyKind) (*BufferManager, string) {
	t.Helper()
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "metadata.db")
	bm, err := New(buffSize, policy, metaPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { bm.Close() })
	return bm, dir
}

func dataFile(t *testing.T, dir string) string {
	return filepath.Join(dir, "t.db")
}

// P1: round-trip page I/O.
func TestRoundTripPageIO(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 4); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	content := make([]byte, page.Size)
	for i := range content {
		content[i] = byte(i % 8)
	}
	p := page.FromBytes(content)
	if err := bm.WritePage(path, 1, p); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := bm.FlushFile(path); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}

	got, err := bm.GetPage(path, 1)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if string(got.Raw()) != string(content) {
		t.Fatalf("round-tripped page content mismatch")
	}
}

// P2: eviction correctness — the (C+1)th distinct page read evicts the
// first page read, which must then be absent from cache.
func TestEvictionCorrectness(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 10); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	for _, pn := range []uint64{1, 2, 3, 4} {
		if _, err := bm.GetPage(path, pn); err != nil {
			t.Fatalf("GetPage(%d): %v", pn, err)
		}
	}
	if _, err := bm.GetPage(path, 5); err != nil {
		t.Fatalf("GetPage(5): %v", err)
	}

	if _, ok := bm.index[cacheKey{path, 1}]; ok {
		t.Fatalf("page 1 should have been evicted")
	}
	if err := bm.Flush(path, 1); err == nil {
		t.Fatalf("expected ErrNotInBuffer flushing an evicted page")
	}
}

func accessSequence(t *testing.T, bm *BufferManager, path string) {
	t.Helper()
	for _, pn := range []uint64{2, 4, 3, 1, 5, 7, 3, 6} {
		if _, err := bm.GetPage(path, pn); err != nil {
			t.Fatalf("GetPage(%d): %v", pn, err)
		}
	}
}

func cachedPageNums(bm *BufferManager) map[uint64]bool {
	out := make(map[uint64]bool)
	for _, e := range bm.slots {
		if e != nil {
			out[e.key.pageNum] = true
		}
	}
	return out
}

// P3: LRU access sequence r(2,4,3,1,5,7,3,6) on a 4-slot buffer ends with
// exactly {5,7,3,6} resident.
func TestLRUAccessSequence(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 10); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	accessSequence(t, bm, path)

	want := map[uint64]bool{5: true, 7: true, 3: true, 6: true}
	got := cachedPageNums(bm)
	if len(got) != len(want) {
		t.Fatalf("cache contents = %v, want %v", got, want)
	}
	for pn := range want {
		if !got[pn] {
			t.Fatalf("cache contents = %v, want %v", got, want)
		}
	}
}

// P4: the same sequence on a 4-slot CLOCK buffer also ends with {5,7,3,6}.
func TestClockAccessSequence(t *testing.T) {
	bm, dir := newTestManager(t, 4, Clock)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 10); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	accessSequence(t, bm, path)

	want := map[uint64]bool{5: true, 7: true, 3: true, 6: true}
	got := cachedPageNums(bm)
	if len(got) != len(want) {
		t.Fatalf("cache contents = %v, want %v", got, want)
	}
	for pn := range want {
		if !got[pn] {
			t.Fatalf("cache contents = %v, want %v", got, want)
		}
	}
}

// P9: after add_file + fill_up_to(file, 10), file size equals
// (NonDataPage + 10) * Size.
func TestFillUpToFileSize(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 10); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}
	if err := bm.FlushFile(path); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	want := int64(NonDataPage+10) * page.Size
	if info.Size() != want {
		t.Fatalf("file size = %d, want %d", info.Size(), want)
	}
}

// P10: insert_bytes strictly decreases the chosen page's free count by the
// length of the inserted record.
func TestInsertBytesDecreasesFreeCount(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 4); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	f, err := bm.file(path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	entryOffset := int64(InitFilePageNum) * freeBytesEntrySize
	before, err := readUint64At(f, entryOffset)
	if err != nil {
		t.Fatalf("readUint64At: %v", err)
	}

	payload := []byte("hello, pagestore")
	pos, err := bm.InsertBytes(path, payload)
	if err != nil {
		t.Fatalf("InsertBytes: %v", err)
	}
	if pos.PageNum != 0 {
		t.Fatalf("expected first-fit page 0, got %d", pos.PageNum)
	}

	after, err := readUint64At(f, entryOffset)
	if err != nil {
		t.Fatalf("readUint64At: %v", err)
	}
	if before-after != uint64(len(payload)) {
		t.Fatalf("free count delta = %d, want %d", before-after, len(payload))
	}

	got, err := bm.ReadBytes(pos, uint64(len(payload)))
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("ReadBytes = %q, want %q", got, payload)
	}
}

// InsertBytes skips a page with exactly enough free space (strict '>'
// first-fit quirk, preserved deliberately).
func TestInsertBytesStrictFirstFit(t *testing.T) {
	bm, dir := newTestManager(t, 4, LRU)
	path := dataFile(t, dir)
	if err := bm.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bm.FillUpTo(path, 4); err != nil {
		t.Fatalf("FillUpTo: %v", err)
	}

	f, err := bm.file(path)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	// Shrink page 0's free count to exactly len(payload), so it should be
	// skipped in favor of page 1.
	payload := []byte("exact-fit-bytes-")
	entryOffset := int64(InitFilePageNum) * freeBytesEntrySize
	if err := writeUint64At(f, entryOffset, uint64(len(payload))); err != nil {
		t.Fatalf("writeUint64At: %v", err)
	}

	pos, err := bm.InsertBytes(path, payload)
	if err != nil {
		t.Fatalf("InsertBytes: %v", err)
	}
	if pos.PageNum != 1 {
		t.Fatalf("expected page with exact free space to be skipped, landed on %d", pos.PageNum)
	}
}

func TestGetFirstUUIDRoundTrip(t *testing.T) {
	bm, _ := newTestManager(t, 4, LRU)
	id := uuid.New()
	if err := bm.UpdateFirstUUID(id); err != nil {
		t.Fatalf("UpdateFirstUUID: %v", err)
	}
	if err := bm.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	got, err := bm.GetFirstUUID()
	if err != nil {
		t.Fatalf("GetFirstUUID: %v", err)
	}
	if got != id {
		t.Fatalf("GetFirstUUID = %v, want %v", got, id)
	}
}
