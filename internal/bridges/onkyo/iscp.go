package onkyo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultPort is the eISCP TCP port.
const DefaultPort = 60128

const (
	headerSize  = 16
	iscpVersion = 0x01

	// unitType "1" addresses a receiver; other values are for peripherals.
	unitType = '1'

	// maxDataSize guards against garbage headers; real messages are short.
	maxDataSize = 4096

	queryParam   = "QSTN"
	notAvailable = "N/A"
)

var magic = []byte("ISCP")

// ISCP commands used by the client.
const (
	cmdPower  = "PWR"
	cmdVolume = "MVL"
	cmdMute   = "AMT"
	cmdSource = "SLI"
	cmdOSD    = "OSD"
)

// sourceCodes maps input names to SLI parameters.
var sourceCodes = map[string]string{
	"video1": "00",
	"video2": "01",
	"video3": "02",
	"aux1":   "03",
	"aux2":   "04",
	"dvd":    "10",
	"tv":     "12",
	"tape":   "20",
	"phono":  "22",
	"cd":     "23",
	"fm":     "24",
	"am":     "25",
	"tuner":  "26",
	"usb":    "29",
	"net":    "2B",
}

// sourceAliases are front-panel labels newer models print for an input.
// They select the same SLI code but never come back from SourceName.
var sourceAliases = map[string]string{
	"bd/dvd": "10",
	"game":   "02",
	"tv/cd":  "23",
}

var sourceNames = func() map[string]string {
	m := make(map[string]string, len(sourceCodes))
	for name, code := range sourceCodes {
		m[code] = name
	}
	return m
}()

// SourceCode returns the SLI parameter for an input name or alias
// (case-insensitive).
func SourceCode(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if code, ok := sourceCodes[key]; ok {
		return code, true
	}
	code, ok := sourceAliases[key]
	return code, ok
}

// UnknownSources returns the names SourceCode cannot resolve, in order.
func UnknownSources(names []string) []string {
	var unknown []string
	for _, n := range names {
		if _, ok := SourceCode(n); !ok {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// SourceName returns the input name for an SLI parameter.
func SourceName(code string) (string, bool) {
	name, ok := sourceNames[strings.ToUpper(code)]
	return name, ok
}

// encodePacket wraps an ISCP message such as "PWR01" in an eISCP frame.
func encodePacket(message string) []byte {
	data := make([]byte, 0, len(message)+3)
	data = append(data, '!', unitType)
	data = append(data, message...)
	data = append(data, '\r')

	buf := make([]byte, headerSize, headerSize+len(data))
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], headerSize)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data))) //nolint:gosec // Bounded by message length
	buf[12] = iscpVersion
	return append(buf, data...)
}

// readPacket reads one eISCP frame from r and returns the ISCP message
// without the start character, unit type and terminator ("PWR01").
func readPacket(r io.Reader) (string, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	if !bytes.Equal(header[0:4], magic) {
		return "", fmt.Errorf("%w: bad magic %q", ErrInvalidPacket, header[0:4])
	}

	hdrLen := binary.BigEndian.Uint32(header[4:8])
	dataLen := binary.BigEndian.Uint32(header[8:12])
	if hdrLen < headerSize || hdrLen > headerSize+64 {
		return "", fmt.Errorf("%w: header size %d", ErrInvalidPacket, hdrLen)
	}
	if dataLen > maxDataSize {
		return "", fmt.Errorf("%w: data size %d", ErrInvalidPacket, dataLen)
	}

	// Skip any header extension.
	if extra := int64(hdrLen) - headerSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return "", err
		}
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return parseMessage(data)
}

func parseMessage(data []byte) (string, error) {
	msg := strings.TrimRight(string(data), "\x00\x1a\r\n")
	if len(msg) < 2 || msg[0] != '!' {
		return "", fmt.Errorf("%w: data %q", ErrInvalidPacket, data)
	}
	return msg[2:], nil
}

// splitMessage splits "MVL2A" into ("MVL", "2A").
func splitMessage(msg string) (command, param string, ok bool) {
	if len(msg) < 3 {
		return "", "", false
	}
	return msg[:3], msg[3:], true
}

func parseFlag(command, param string) (bool, error) {
	switch param {
	case "01":
		return true, nil
	case "00":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s%s", ErrUnexpectedResponse, command, param)
	}
}

func parseVolume(param string) (int, error) {
	v, err := strconv.ParseUint(param, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: MVL%s", ErrUnexpectedResponse, param)
	}
	return int(v), nil
}
