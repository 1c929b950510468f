// Package sysmem reads host memory usage for progress reporting.
package sysmem

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const DefaultPath = "/proc/meminfo"

type Info struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

func (i Info) UsedBytes() uint64 {
	if i.AvailableBytes > i.TotalBytes {
		return 0
	}
	return i.TotalBytes - i.AvailableBytes
}

func (i Info) UsedPercent() float64 {
	if i.TotalBytes == 0 {
		return 0
	}
	return float64(i.UsedBytes()) / float64(i.TotalBytes) * 100
}

// Read parses a meminfo file. It returns false where the file does not exist (non-Linux hosts).
func Read(path string) (Info, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false, nil
		}
		return Info{}, false, err
	}
	defer f.Close()
	info, err := Parse(f)
	if err != nil {
		return Info{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return info, true, nil
}

func Current() (Info, bool) {
	info, ok, err := Read(DefaultPath)
	if err != nil {
		return Info{}, false
	}
	return info, ok
}

// Parse reads MemTotal and MemAvailable (falling back to MemFree+Buffers+Cached).
func Parse(r io.Reader) (Info, error) {
	fields := make(map[string]uint64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) == 0 {
			continue
		}
		v, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		if len(parts) > 1 && strings.EqualFold(parts[1], "kB") {
			v *= 1024
		}
		fields[strings.TrimSpace(key)] = v
	}
	if err := scanner.Err(); err != nil {
		return Info{}, err
	}
	total, ok := fields["MemTotal"]
	if !ok {
		return Info{}, fmt.Errorf("MemTotal missing")
	}
	avail, ok := fields["MemAvailable"]
	if !ok {
		avail = fields["MemFree"] + fields["Buffers"] + fields["Cached"]
	}
	return Info{TotalBytes: total, AvailableBytes: avail}, nil
}
