package records

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync/atomic"
)

const (
	maxLabelLength = 63
	maxNameLength  = 255
)

// A configured redirect, as supplied by the configuration layer.
type Record struct {
	Domain string `json:"domain"`
	IP     string `json:"ip"`
}

type Entry struct {
	Domain  string
	Address netip.Addr
}

type ConfigError struct {
	Index  int
	Domain string
	IP     string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("record %d (domain '%s', ip '%s') is invalid: %s", e.Index, e.Domain, e.IP, e.Reason)
}

// Table maps domain names to redirect addresses. Readers never take a lock;
// Load publishes a complete replacement map in one atomic store.
type Table struct {
	entries atomic.Pointer[map[string]netip.Addr]
}

func NewTable() *Table {
	table := &Table{}
	empty := map[string]netip.Addr{}
	table.entries.Store(&empty)
	return table
}

// Lowercase and strip a single trailing dot, so "Example.COM." and
// "example.com" share a key.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	if len(name) > 1 && name[len(name)-1] == '.' {
		name = name[:len(name)-1]
	}
	return name
}

// Validate a single record and return the entry it describes.
func Validate(index int, record Record) (Entry, error) {
	domain := NormalizeName(strings.TrimSpace(record.Domain))
	if domain == "" || domain == "." {
		return Entry{}, ConfigError{Index: index, Domain: record.Domain, IP: record.IP, Reason: "domain is empty"}
	}

	if reason := checkName(domain); reason != "" {
		return Entry{}, ConfigError{Index: index, Domain: record.Domain, IP: record.IP, Reason: reason}
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(record.IP))
	if err != nil {
		return Entry{}, ConfigError{Index: index, Domain: record.Domain, IP: record.IP, Reason: "ip is not a valid address"}
	}
	if addr.Zone() != "" {
		return Entry{}, ConfigError{Index: index, Domain: record.Domain, IP: record.IP, Reason: "ip must not carry a zone"}
	}

	return Entry{Domain: domain, Address: addr.Unmap()}, nil
}

// Queried names arrive in presentation form, where anything outside
// printable ASCII and any literal dot or backslash inside a label is
// escaped. A domain that needs escaping could never equal a queried name.
func checkName(domain string) string {
	wireLength := 1
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return "domain has an empty label"
		}
		if len(label) > maxLabelLength {
			return fmt.Sprintf("label '%s' is longer than %d bytes", label, maxLabelLength)
		}
		for i := 0; i < len(label); i++ {
			if c := label[i]; c < 0x21 || c > 0x7E || c == '\\' {
				return fmt.Sprintf("label '%s' contains byte 0x%02x; use the punycode form for internationalized names", label, c)
			}
		}
		wireLength += len(label) + 1
	}
	if wireLength > maxNameLength {
		return fmt.Sprintf("domain is longer than %d bytes", maxNameLength)
	}
	return ""
}

// Load replaces the whole table. Nothing is published unless every record
// validates; duplicate domains keep the last address given.
func (t *Table) Load(records []Record) error {
	next := make(map[string]netip.Addr, len(records))

	for i, record := range records {
		entry, err := Validate(i, record)
		if err != nil {
			return err
		}
		next[entry.Domain] = entry.Address
	}

	t.entries.Store(&next)
	return nil
}

func (t *Table) Lookup(name string) (netip.Addr, bool) {
	addr, ok := (*t.entries.Load())[NormalizeName(name)]
	return addr, ok
}

func (t *Table) Len() int {
	return len(*t.entries.Load())
}

// Entries returns a snapshot sorted by domain.
func (t *Table) Entries() []Entry {
	current := *t.entries.Load()
	entries := make([]Entry, 0, len(current))

	for domain, addr := range current {
		entries = append(entries, Entry{Domain: domain, Address: addr})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Domain, b.Domain)
	})

	return entries
}
