package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes m. Section counts are taken from the sections
// themselves, not from m.Header.
func Encode(m *Message) ([]byte, error) {
	sections := []int{len(m.Questions), len(m.Answers), len(m.Authorities), len(m.Additionals)}
	for _, count := range sections {
		if count > math.MaxUint16 {
			return nil, fmt.Errorf("section of %d entries does not fit a dns message", count)
		}
	}

	buf := make([]byte, 0, 512)
	buf = binary.BigEndian.AppendUint16(buf, m.Header.ID)
	buf = binary.BigEndian.AppendUint16(buf, m.Header.Flags())
	for _, count := range sections {
		buf = binary.BigEndian.AppendUint16(buf, uint16(count))
	}

	var err error
	for _, question := range m.Questions {
		buf, err = appendName(buf, question.Name)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint16(buf, question.Qtype)
		buf = binary.BigEndian.AppendUint16(buf, question.Qclass)
	}

	for _, section := range [][]ResourceRecord{m.Answers, m.Authorities, m.Additionals} {
		for _, rr := range section {
			buf, err = appendRecord(buf, rr)
			if err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

func appendRecord(buf []byte, rr ResourceRecord) ([]byte, error) {
	if len(rr.Data) > math.MaxUint16 {
		return nil, fmt.Errorf("rdata for %s is %d bytes, limit is %d", rr.Name, len(rr.Data), math.MaxUint16)
	}

	buf, err := appendName(buf, rr.Name)
	if err != nil {
		return nil, err
	}

	buf = binary.BigEndian.AppendUint16(buf, rr.Type)
	buf = binary.BigEndian.AppendUint16(buf, rr.Class)
	buf = binary.BigEndian.AppendUint32(buf, rr.TTL)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(rr.Data)))
	return append(buf, rr.Data...), nil
}

// appendName writes name as uncompressed labels. The trailing dot is
// optional; "" and "." both mean the root.
func appendName(buf []byte, name string) ([]byte, error) {
	if name == "" || name == "." {
		return append(buf, 0), nil
	}

	wireLength := 1
	label := make([]byte, 0, maxLabelLength)

	flush := func() error {
		if len(label) == 0 {
			return fmt.Errorf("%w: %q has an empty label", ErrInvalidName, name)
		}
		if len(label) > maxLabelLength {
			return fmt.Errorf("%w: %q has a label longer than %d bytes", ErrInvalidName, name, maxLabelLength)
		}
		wireLength += len(label) + 1
		if wireLength > maxNameLength {
			return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, maxNameLength)
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
		label = label[:0]
		return nil
	}

	for i := 0; i < len(name); i++ {
		c := name[i]

		switch c {
		case '.':
			if err := flush(); err != nil {
				return nil, err
			}
		case '\\':
			if i+1 >= len(name) {
				return nil, fmt.Errorf("%w: %q ends in a bare escape", ErrInvalidName, name)
			}
			if isDigit(name[i+1]) {
				if i+3 >= len(name) || !isDigit(name[i+2]) || !isDigit(name[i+3]) {
					return nil, fmt.Errorf("%w: %q has a short decimal escape", ErrInvalidName, name)
				}
				value := int(name[i+1]-'0')*100 + int(name[i+2]-'0')*10 + int(name[i+3]-'0')
				if value > 255 {
					return nil, fmt.Errorf("%w: %q escapes a value above 255", ErrInvalidName, name)
				}
				label = append(label, byte(value))
				i += 3
			} else {
				label = append(label, name[i+1])
				i++
			}
		default:
			label = append(label, c)
		}
	}

	if len(label) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return append(buf, 0), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
