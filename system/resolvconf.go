package system

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

const DefaultResolvConfPath = "/etc/resolv.conf"

// ResolvConf tracks the nameservers of a resolv.conf file. Only the
// nameserver lines matter here; they are the upstreams for forwarding.
type ResolvConf struct {
	mu           sync.RWMutex
	nameservers  []string
	path         string
	lastModified time.Time
}

func (r *ResolvConf) Nameservers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nameservers)
}

// Refresh re-reads the file if it changed since the last read and reports
// whether it did.
func (r *ResolvConf) Refresh() (bool, error) {
	fileStats, err := os.Stat(r.path)
	if err != nil {
		return false, err
	}

	r.mu.RLock()
	changed := fileStats.ModTime().After(r.lastModified)
	r.mu.RUnlock()
	if !changed {
		return false, nil
	}

	newResolvConf, err := NewResolvConfFromPath(r.path)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.nameservers = newResolvConf.nameservers
	r.lastModified = newResolvConf.lastModified
	r.mu.Unlock()

	return true, nil
}

func (r *ResolvConf) Watch(ctx context.Context, interval time.Duration, log *slog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := r.Refresh()
				if err != nil {
					log.Debug("failed to refresh resolvconf", "path", r.path, "err", err)
					continue
				}
				if changed {
					log.Info("resolvconf changed", "path", r.path, "nameservers", r.Nameservers())
				}
			}
		}
	}()
}

func newResolvConfFromReader(reader io.Reader) (*ResolvConf, error) {
	resolvConf := ResolvConf{}
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		words := strings.Fields(scanner.Text())

		if len(words) < 2 {
			continue
		}

		switch words[0] {
		case "nameserver":
			resolvConf.nameservers = append(resolvConf.nameservers, words[1])
		default:
		}
	}

	return &resolvConf, scanner.Err()
}

func NewResolvConfFromPath(path string) (*ResolvConf, error) {

	conf, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer conf.Close()

	resolvConf, err := newResolvConfFromReader(conf)
	if err != nil {
		return resolvConf, err
	}

	if stat, _ := conf.Stat(); stat != nil {
		resolvConf.lastModified = stat.ModTime()
	}

	resolvConf.path = path

	return resolvConf, nil
}
