package wayland

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// socketFDs lists this process's open socket descriptors.
func socketFDs() (map[int]bool, error) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return nil, fmt.Errorf("list descriptors: %w", err)
	}
	out := make(map[int]bool, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		var st unix.Stat_t
		if unix.Fstat(fd, &st) == nil && st.Mode&unix.S_IFMT == unix.S_IFSOCK {
			out[fd] = true
		}
	}
	return out, nil
}

// connFD finds the socket client.Connect dialed, which go-wayland does not
// expose: a unix socket opened since before was taken whose peer is path.
// When the peer name does not match (a symlinked runtime dir), a single
// new unix socket is taken as the connection.
func connFD(before map[int]bool, path string) (int, error) {
	after, err := socketFDs()
	if err != nil {
		return -1, err
	}
	want := filepath.Clean(path)
	var fresh []int
	for fd := range after {
		if before[fd] {
			continue
		}
		sa, err := unix.Getpeername(fd)
		if err != nil {
			continue
		}
		ua, ok := sa.(*unix.SockaddrUnix)
		if !ok {
			continue
		}
		if filepath.Clean(ua.Name) == want {
			return fd, nil
		}
		fresh = append(fresh, fd)
	}
	if len(fresh) == 1 {
		return fresh[0], nil
	}
	return -1, errors.New("wayland: cannot locate the connection socket")
}
