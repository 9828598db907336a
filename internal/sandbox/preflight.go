package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// threadCountFn is swappable in tests; Go's runtime keeps several OS
// threads alive (GC, sysmon) regardless of goroutine count, so the
// real reading is exercised only through this seam.
var threadCountFn = threadCount

// threadCount reports the current process's OS thread count. On Linux
// this reads /proc/self/status; platforms without that file report 1
// so the check becomes a no-op rather than a false failure.
func threadCount() (int, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Threads:") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, err
			}
			return n, nil
		}
	}
	return 1, scanner.Err()
}

type canonCache struct {
	mu    sync.Mutex
	cache map[string]string
}

func newCanonCache() *canonCache {
	return &canonCache{cache: make(map[string]string)}
}

// canonicalize resolves path to its canonical absolute form, memoised
// so repeated spawns against the same profile do not re-stat.
func (c *canonCache) canonicalize(path string) (string, error) {
	c.mu.Lock()
	if v, ok := c.cache[path]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[path] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// Preflight runs the ordered pre-flight checks the spawn contract
// requires: single-threaded process, absolute program path,
// canonicalisation to an existing file, and executable-set membership.
func Preflight(profile Profile, cache *canonCache, program string) (string, error) {
	if profile.MaxThreads > 0 {
		n, err := threadCountFn()
		if err != nil {
			return "", &Error{Kind: ErrLaunchFailed, Cause: err}
		}
		if n > profile.MaxThreads {
			return "", &Error{Kind: ErrMultiThreaded, ThreadCount: n}
		}
	}

	if !filepath.IsAbs(program) {
		return "", &Error{Kind: ErrProgramNotAbsolute, Path: program}
	}

	canon, err := cache.canonicalize(program)
	if err != nil {
		return "", &Error{Kind: ErrMissingPath, Path: program}
	}
	if _, err := os.Stat(canon); err != nil {
		return "", &Error{Kind: ErrMissingPath, Path: program}
	}

	authorised := false
	for _, exe := range profile.ExecutablePaths {
		resolvedExe, err := cache.canonicalize(exe)
		if err != nil {
			continue
		}
		if resolvedExe == canon {
			authorised = true
			break
		}
	}
	if !authorised {
		return "", &Error{Kind: ErrExecutableNotAuthd, Path: program}
	}

	return canon, nil
}
