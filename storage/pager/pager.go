// Package pager implements the per-file allocator that sits between the
// B+ tree and the buffer manager: it hands out new pages, mirrors the
// on-disk free-bytes table in memory, and places/reads raw byte records at
// a granularity finer than a whole page.
package pager

import (
	"pagestore/storage/buffer"
	"pagestore/storage/page"
)

// Pager serializes page allocation and byte-record placement for one file
// above a shared BufferManager.
type Pager struct {
	bm       *buffer.BufferManager
	file     string
	nextPage uint64 // 1-indexed; the next page number get_new_page will hand out
	maxSize  uint64 // current logical data-page capacity of the file

	// remaining mirrors the on-disk free-bytes table for this file. Index
	// 0 is the header deduction entry and is never placed into by
	// InsertValue, matching the source's "skip index 0" rule.
	remaining []uint64
}

// Open wraps an already-added file (via BufferManager.AddFile) with a
// Pager, seeding the in-memory capacity mirror from its current logical
// page count.
func Open(bm *buffer.BufferManager, file string, initialPages uint64) (*Pager, error) {
	p := &Pager{
		bm:      bm,
		file:    file,
		maxSize: initialPages,
	}
	p.nextPage = 1
	p.remaining = make([]uint64, initialPages+1)
	for i := range p.remaining {
		p.remaining[i] = page.Size
	}
	return p, nil
}

// GetNewPage allocates the next sequential page, doubling the file first if
// the allocator has exhausted its current capacity, and returns it.
func (p *Pager) GetNewPage() (uint64, *page.Page, error) {
	if p.nextPage > p.maxSize {
		if err := p.grow(2 * p.maxSize); err != nil {
			return 0, nil, err
		}
	}
	pn := p.nextPage
	p.nextPage++
	pg, err := p.bm.GetPage(p.file, pn)
	if err != nil {
		return 0, nil, err
	}
	return pn, pg, nil
}

func (p *Pager) grow(newMax uint64) error {
	if err := p.bm.FillUpTo(p.file, newMax); err != nil {
		return err
	}
	for uint64(len(p.remaining)) <= newMax {
		p.remaining = append(p.remaining, page.Size)
	}
	p.maxSize = newMax
	return nil
}

// InsertValue places bytes at the first page (by in-memory mirror, skipping
// index 0) with strictly more free space than len(bytes), writes the record
// via the page's WriteBytes, persists the page, and returns the record's
// global offset. If nothing fits, it allocates a fresh page and writes at
// offset 0.
func (p *Pager) InsertValue(bytes []byte) (uint64, error) {
	length := uint64(len(bytes))

	for i := uint64(1); i < uint64(len(p.remaining)); i++ {
		if p.remaining[i] <= length {
			continue
		}
		pg, err := p.bm.GetPage(p.file, i)
		if err != nil {
			return 0, err
		}
		off := int(page.Size - p.remaining[i])
		if err := pg.WriteBytes(off, bytes, len(bytes)); err != nil {
			return 0, err
		}
		if err := p.bm.WritePage(p.file, i, pg); err != nil {
			return 0, err
		}
		p.remaining[i] -= length
		return globalOffset(i, uint64(off)), nil
	}

	pn, pg, err := p.GetNewPage()
	if err != nil {
		return 0, err
	}
	if err := pg.WriteBytes(0, bytes, len(bytes)); err != nil {
		return 0, err
	}
	if err := p.bm.WritePage(p.file, pn, pg); err != nil {
		return 0, err
	}
	for uint64(len(p.remaining)) <= pn {
		p.remaining = append(p.remaining, page.Size)
	}
	p.remaining[pn] -= length
	return globalOffset(pn, 0), nil
}

// GetValue reads size bytes from the record at globalOffset.
func (p *Pager) GetValue(globalOffset uint64, size int) ([]byte, error) {
	pn, off := splitOffset(globalOffset)
	pg, err := p.bm.GetPage(p.file, pn)
	if err != nil {
		return nil, err
	}
	return pg.ReadBytes(int(off), size)
}

// FillUpTo grows the file so its logical data-page count reaches n,
// re-synchronizing the in-memory capacity mirror.
func (p *Pager) FillUpTo(n uint64) error {
	return p.grow(n)
}

// File returns the name of the file this Pager allocates within.
func (p *Pager) File() string {
	return p.file
}

func globalOffset(pageNum, pageOffset uint64) uint64 {
	return (pageNum-1)*page.Size + pageOffset
}

func splitOffset(globalOffset uint64) (pageNum uint64, pageOffset uint64) {
	return globalOffset/page.Size + 1, globalOffset % page.Size
}
