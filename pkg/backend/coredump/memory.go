package coredump

import (
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/memview/pkg/backend"
)

// memoryReader is implemented by the pieces of the memory image of a core.
type memoryReader interface {
	ReadMemory(buf []byte, addr backend.Address) (n int, err error)
}

// A splicedMemory represents a memory space formed from multiple regions,
// each of which may override previously regions. For example, in the following
// core, the program text was loaded at 0x400000:
// Start               End                 Page Offset
// 0x0000000000400000  0x000000000044f000  0x0000000000000000
// but then it's partially overwritten with an RW mapping whose data is stored
// in the core file:
// Type           Offset             VirtAddr           PhysAddr
//                FileSiz            MemSiz              Flags  Align
// LOAD           0x0000000000004000 0x000000000049a000 0x0000000000000000
//                0x0000000000002000 0x0000000000002000  RW     1000
// This can be represented in a SplicedMemory by adding the original region,
// then putting the RW mapping on top of it.
type splicedMemory struct {
	readers []readerEntry
}

type readerEntry struct {
	offset backend.Address
	length uint64
	reader memoryReader
}

func (e *readerEntry) end() backend.Address {
	return e.offset + backend.Address(e.length)
}

// Add adds a new region to the SplicedMemory, which may override existing regions.
func (r *splicedMemory) Add(reader memoryReader, off backend.Address, length uint64) {
	if length == 0 {
		return
	}
	end := off + backend.Address(length) - 1
	newReaders := make([]readerEntry, 0, len(r.readers))
	add := func(e readerEntry) {
		if e.length == 0 {
			return
		}
		newReaders = append(newReaders, e)
	}
	inserted := false
	// Walk through the list of regions, fixing up any that overlap and inserting the new one.
	for _, entry := range r.readers {
		entryEnd := entry.end() - 1
		switch {
		case entryEnd < off:
			// Entry is completely before the new region.
			add(entry)
		case end < entry.offset:
			// Entry is completely after the new region.
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			add(entry)
		case off <= entry.offset && entryEnd <= end:
			// Entry is completely overwritten by the new region. Drop.
		case entry.offset < off && entryEnd <= end:
			// New region overwrites the end of the entry.
			entry.length = uint64(off - entry.offset)
			add(entry)
		case off <= entry.offset && end < entryEnd:
			// New reader overwrites the beginning of the entry.
			if !inserted {
				add(readerEntry{off, length, reader})
				inserted = true
			}
			overlap := uint64(end + 1 - entry.offset)
			entry.offset += backend.Address(overlap)
			entry.length -= overlap
			add(entry)
		case entry.offset < off && end < entryEnd:
			// New region punches a hole in the entry. Split it in two and put the new region in the middle.
			add(readerEntry{entry.offset, uint64(off - entry.offset), entry.reader})
			add(readerEntry{off, length, reader})
			add(readerEntry{end + 1, uint64(entryEnd - end), entry.reader})
			inserted = true
		default:
			panic(fmt.Sprintf("Unhandled case: existing entry is %v len %v, new is %v len %v", entry.offset, entry.length, off, length))
		}
	}
	if !inserted {
		newReaders = append(newReaders, readerEntry{off, length, reader})
	}
	r.readers = newReaders
}

// ReadMemory reads contiguous memory starting at addr. Reading stops at
// the first address not covered by any region, the error wraps
// backend.ErrUnmapped in that case.
func (r *splicedMemory) ReadMemory(buf []byte, addr backend.Address) (n int, err error) {
	for _, entry := range r.readers {
		if len(buf) == 0 {
			return n, nil
		}
		if entry.end() <= addr {
			continue
		}
		if entry.offset > addr {
			break
		}

		// Don't go past the region.
		pb := buf
		if avail := uint64(entry.end() - addr); uint64(len(pb)) > avail {
			pb = pb[:avail]
		}
		pn, err := entry.reader.ReadMemory(pb, addr)
		n += pn
		if err != nil {
			return n, fmt.Errorf("error while reading spliced memory at %s: %w", addr, err)
		}
		buf = buf[pn:]
		addr += backend.Address(pn)
	}
	if len(buf) == 0 {
		return n, nil
	}
	return n, fmt.Errorf("%w: %s", backend.ErrUnmapped, addr)
}

// offsetReaderAt wraps a ReaderAt into a memoryReader, address vaddr
// corresponding to offset fileOff of the reader. This is useful to
// represent a PT_LOAD segment of the core file in the address space.
type offsetReaderAt struct {
	reader  io.ReaderAt
	vaddr   backend.Address
	fileOff uint64
}

func (r *offsetReaderAt) ReadMemory(buf []byte, addr backend.Address) (n int, err error) {
	n, err = r.reader.ReadAt(buf, int64(r.fileOff+uint64(addr-r.vaddr)))
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

// zeroReader represents memory that is part of a segment but not stored
// in the file (Memsz > Filesz).
type zeroReader struct{}

func (zeroReader) ReadMemory(buf []byte, addr backend.Address) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

// pageCache is an io.ReaderAt that keeps the most recently used pages of
// the underlying reader in memory.
type pageCache struct {
	r        io.ReaderAt
	size     int64
	pageSize int64
	pages    *lru.Cache
}

func newPageCache(r io.ReaderAt, size int64, pageSize int64, npages int) (*pageCache, error) {
	pages, err := lru.New(npages)
	if err != nil {
		return nil, err
	}
	return &pageCache{r: r, size: size, pageSize: pageSize, pages: pages}, nil
}

func (c *pageCache) page(idx int64) ([]byte, error) {
	if v, ok := c.pages.Get(idx); ok {
		return v.([]byte), nil
	}
	off := idx * c.pageSize
	sz := c.pageSize
	if off+sz > c.size {
		sz = c.size - off
	}
	if sz <= 0 {
		return nil, io.EOF
	}
	buf := make([]byte, sz)
	n, err := c.r.ReadAt(buf, off)
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	c.pages.Add(idx, buf)
	return buf, nil
}

func (c *pageCache) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	for n < len(p) {
		cur := off + int64(n)
		pg, err := c.page(cur / c.pageSize)
		if err != nil {
			return n, err
		}
		k := copy(p[n:], pg[cur%c.pageSize:])
		if k == 0 {
			return n, io.EOF
		}
		n += k
	}
	return n, nil
}
