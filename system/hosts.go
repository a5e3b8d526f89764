package system

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/thenaterhood/spudproxy/records"
)

// EtcHosts reads redirect records from a file in hosts(5) format:
//
//	10.0.0.1   blocked.example.com ads.example.com
//	2001:db8::1 v6.example.com   # comment
type EtcHosts struct {
	Path string
}

func NewEtcHosts(path string) *EtcHosts {
	return &EtcHosts{
		Path: path,
	}
}

func (hosts *EtcHosts) ReadFromFile() ([]records.Record, error) {
	conf, err := os.Open(hosts.Path)
	if err != nil {
		return nil, err
	}

	defer conf.Close()

	return hosts.ReadFromReader(conf)
}

// Addresses are not validated here; the record table rejects bad ones
// when the records are loaded.
func (hosts *EtcHosts) ReadFromReader(reader io.Reader) ([]records.Record, error) {
	scanner := bufio.NewScanner(reader)
	result := []records.Record{}

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}

		words := strings.Fields(line)
		if len(words) < 2 {
			continue
		}

		for _, host := range words[1:] {
			result = append(result, records.Record{Domain: host, IP: words[0]})
		}
	}

	return result, scanner.Err()
}
