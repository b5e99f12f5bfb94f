package wayland

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ShmFile is an anonymous memory file mapped into this process.
type ShmFile struct {
	fd   int
	data []byte
}

// AllocShm creates a memfd of size bytes and maps it read/write.
func AllocShm(size int) (*ShmFile, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid shm size %d", size)
	}
	fd, err := unix.MemfdCreate("vidwall-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &ShmFile{fd: fd, data: data}, nil
}

func (f *ShmFile) FD() int       { return f.fd }
func (f *ShmFile) Bytes() []byte { return f.data }
func (f *ShmFile) Size() int     { return len(f.data) }

// Close unmaps and closes the file. The compositor keeps its own reference.
func (f *ShmFile) Close() error {
	var firstErr error
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			firstErr = err
		}
		f.data = nil
	}
	if f.fd >= 0 {
		if err := unix.Close(f.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		f.fd = -1
	}
	return firstErr
}

// CopyRGBAToXRGB writes RGBA pixels into an XRGB8888 destination, which
// little-endian compositors read as B, G, R, X bytes.
func CopyRGBAToXRGB(dst []byte, dstStride int, src []byte, srcStride, width, height int) {
	for y := 0; y < height; y++ {
		s := src[y*srcStride : y*srcStride+width*4]
		d := dst[y*dstStride : y*dstStride+width*4]
		for x := 0; x < width*4; x += 4 {
			d[x+0] = s[x+2]
			d[x+1] = s[x+1]
			d[x+2] = s[x+0]
			d[x+3] = 0xff
		}
	}
}
