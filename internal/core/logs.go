package core

import (
	"bufio"
	"os"
)

// tailFile returns the final n lines of path. A missing file yields an
// empty, non-truncated result. truncated is true iff the file held more
// lines than n.
func tailFile(path string, n int) ([]string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		total++
		line := scanner.Text()
		if len(ring) < n {
			ring = append(ring, line)
		} else {
			copy(ring, ring[1:])
			ring[len(ring)-1] = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return ring, total > n, nil
}
