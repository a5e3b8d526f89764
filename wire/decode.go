package wire

import (
	"encoding/binary"
	"strings"
)

// Decode parses a complete DNS message. Every section the header declares
// is parsed, so trailing answer, authority and additional records are
// consumed correctly even though queries rarely carry them.
func Decode(packet []byte) (*Message, error) {
	if len(packet) < HeaderSize {
		return nil, malformed(len(packet), "packet is %d bytes, header needs %d", len(packet), HeaderSize)
	}

	msg := &Message{}
	msg.Header.ID = binary.BigEndian.Uint16(packet[0:2])
	msg.Header.SetFlags(binary.BigEndian.Uint16(packet[2:4]))
	msg.Header.QDCount = binary.BigEndian.Uint16(packet[4:6])
	msg.Header.ANCount = binary.BigEndian.Uint16(packet[6:8])
	msg.Header.NSCount = binary.BigEndian.Uint16(packet[8:10])
	msg.Header.ARCount = binary.BigEndian.Uint16(packet[10:12])

	recordCount := int(msg.Header.ANCount) + int(msg.Header.NSCount) + int(msg.Header.ARCount)
	needed := int(msg.Header.QDCount)*minQuestionSize + recordCount*minRecordSize
	if remaining := len(packet) - HeaderSize; needed > remaining {
		return nil, malformed(HeaderSize, "declared counts need at least %d bytes, %d remain", needed, remaining)
	}

	offset := HeaderSize
	var err error

	msg.Questions = make([]Question, 0, msg.Header.QDCount)
	for i := 0; i < int(msg.Header.QDCount); i++ {
		var question Question
		question, offset, err = decodeQuestion(packet, offset)
		if err != nil {
			return nil, err
		}
		msg.Questions = append(msg.Questions, question)
	}

	msg.Answers, offset, err = decodeRecords(packet, offset, msg.Header.ANCount)
	if err != nil {
		return nil, err
	}

	msg.Authorities, offset, err = decodeRecords(packet, offset, msg.Header.NSCount)
	if err != nil {
		return nil, err
	}

	msg.Additionals, _, err = decodeRecords(packet, offset, msg.Header.ARCount)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func decodeQuestion(packet []byte, offset int) (Question, int, error) {
	name, offset, err := decodeName(packet, offset)
	if err != nil {
		return Question{}, 0, err
	}

	if offset+4 > len(packet) {
		return Question{}, 0, malformed(offset, "question for %s is missing type and class", name)
	}

	return Question{
		Name:   name,
		Qtype:  binary.BigEndian.Uint16(packet[offset:]),
		Qclass: binary.BigEndian.Uint16(packet[offset+2:]),
	}, offset + 4, nil
}

func decodeRecords(packet []byte, offset int, count uint16) ([]ResourceRecord, int, error) {
	if count == 0 {
		return nil, offset, nil
	}

	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < int(count); i++ {
		name, next, err := decodeName(packet, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = next

		if offset+10 > len(packet) {
			return nil, 0, malformed(offset, "record for %s is missing its fixed fields", name)
		}

		rr := ResourceRecord{
			Name:  name,
			Type:  binary.BigEndian.Uint16(packet[offset:]),
			Class: binary.BigEndian.Uint16(packet[offset+2:]),
			TTL:   binary.BigEndian.Uint32(packet[offset+4:]),
		}
		rdlength := int(binary.BigEndian.Uint16(packet[offset+8:]))
		offset += 10

		if offset+rdlength > len(packet) {
			return nil, 0, malformed(offset, "rdata of %d bytes overruns packet", rdlength)
		}

		// Copy so the record does not alias a reused receive buffer.
		rr.Data = make([]byte, rdlength)
		copy(rr.Data, packet[offset:offset+rdlength])
		offset += rdlength

		rrs = append(rrs, rr)
	}

	return rrs, offset, nil
}

// decodeName reads the name at offset and returns it along with the offset
// of the first byte after it in the original position.
//
// Each compression pointer must target a position strictly before the
// pointer itself, and every further pointer strictly before the previous
// target. Offsets therefore strictly decrease and a loop is impossible.
func decodeName(packet []byte, offset int) (string, int, error) {
	var name strings.Builder

	pos := offset
	limit := -1
	next := -1
	wireLength := 0

	for {
		if pos >= len(packet) {
			return "", 0, malformed(pos, "name runs past end of packet")
		}

		length := int(packet[pos])

		switch length & 0xC0 {
		case 0x00:
			if length == 0 {
				if next < 0 {
					next = pos + 1
				}
				if name.Len() == 0 {
					return ".", next, nil
				}
				return name.String(), next, nil
			}

			if pos+1+length > len(packet) {
				return "", 0, malformed(pos, "label of %d bytes overruns packet", length)
			}

			wireLength += length + 1
			if wireLength+1 > maxNameLength {
				return "", 0, malformed(pos, "name exceeds %d bytes", maxNameLength)
			}

			writeLabel(&name, packet[pos+1:pos+1+length])
			pos += 1 + length

		case 0xC0:
			if pos+1 >= len(packet) {
				return "", 0, malformed(pos, "compression pointer is truncated")
			}

			target := int(binary.BigEndian.Uint16(packet[pos:]) & 0x3FFF)
			if target >= pos {
				return "", 0, malformed(pos, "compression pointer to %d does not point backwards", target)
			}
			if limit >= 0 && target >= limit {
				return "", 0, malformed(pos, "compression pointer to %d would loop", target)
			}

			if next < 0 {
				next = pos + 2
			}
			limit = target
			pos = target

		default:
			return "", 0, malformed(pos, "label type 0x%02x is reserved", length&0xC0)
		}
	}
}

func writeLabel(name *strings.Builder, label []byte) {
	for _, c := range label {
		switch {
		case c == '.' || c == '\\':
			name.WriteByte('\\')
			name.WriteByte(c)
		case c < 0x21 || c > 0x7E:
			name.WriteByte('\\')
			name.WriteByte('0' + c/100)
			name.WriteByte('0' + c/10%10)
			name.WriteByte('0' + c%10)
		default:
			name.WriteByte(c)
		}
	}
	name.WriteByte('.')
}
