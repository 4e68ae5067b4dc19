// Package leases reads the DHCP lease table maintained by dnsmasq.
package leases

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/revive/internal/model"
)

// ErrUnavailable is returned when the lease table cannot be read.
var ErrUnavailable = errors.New("lease source unavailable")

// File reads a dnsmasq lease file. Each line has the form
//
//	<timestamp> <mac> <ip> <hostname|*> <client-id|*>
type File struct {
	Path string
}

// NewFile returns a lease source for the given path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Read returns every well-formed lease in the file. Malformed lines are
// skipped.
func (f *File) Read(ctx context.Context) ([]model.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer fh.Close()

	leases, _, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return leases, nil
}

// Parse decodes lease lines from r, returning the leases and the number of
// lines that were skipped as malformed.
func Parse(r io.Reader) ([]model.Lease, int, error) {
	var (
		out     []model.Lease
		skipped int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lease, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		out = append(out, lease)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, err
	}
	return out, skipped, nil
}

func parseLine(line string) (model.Lease, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return model.Lease{}, false
	}
	mac, err := NormalizeMAC(fields[1])
	if err != nil {
		return model.Lease{}, false
	}
	ip := net.ParseIP(fields[2])
	if ip == nil {
		return model.Lease{}, false
	}

	var ts time.Time
	if secs, err := strconv.ParseInt(fields[0], 10, 64); err == nil && secs > 0 {
		ts = time.Unix(secs, 0).UTC()
	}

	hostname := fields[3]
	if hostname == "*" {
		hostname = ""
	}

	return model.Lease{
		MAC:       mac,
		Address:   ip.String(),
		Hostname:  hostname,
		Timestamp: ts,
	}, true
}

// NormalizeMAC returns the lower-case colon separated form of a hardware
// address.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid hardware address %q", s)
	}
	return strings.ToLower(hw.String()), nil
}
