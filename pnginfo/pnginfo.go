// Package pnginfo embeds and reads the text chunks ComfyUI uses to carry the
// prompt and workflow alongside a generated image.
package pnginfo

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"unicode/utf8"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

const (
	// chunk lengths above 2^31-1 are invalid PNG
	maxChunkLength = 0x7FFFFFFF
	// MaxTextLength caps a single text chunk, before and after inflating
	MaxTextLength = 32 << 20
)

var (
	ErrNotPNG        = errors.New("not a valid PNG file")
	ErrChunkTooLarge = errors.New("png chunk too large")
	ErrMalformedText = errors.New("malformed png text chunk")
)

// Entry is a single keyword/text pair
type Entry struct {
	Key   string
	Value string
}

// Text is an ordered set of text entries. Order is preserved in the file.
type Text []Entry

// Add appends an entry and returns the updated Text
func (t Text) Add(key, value string) Text {
	return append(t, Entry{Key: key, Value: value})
}

// Encode writes img as a PNG with one text chunk per entry placed directly after
// IHDR. ASCII values go into tEXt, anything else into an uncompressed UTF-8 iTXt.
func Encode(w io.Writer, img image.Image, text Text) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	if len(text) == 0 {
		_, err := w.Write(buf.Bytes())
		return err
	}

	data := buf.Bytes()
	// signature + IHDR (4 length, 4 type, 13 data, 4 crc)
	ihdrEnd := len(pngSignature) + 4 + 4 + 13 + 4
	if len(data) < ihdrEnd {
		return errors.New("encoded png is truncated")
	}

	if _, err := w.Write(data[:ihdrEnd]); err != nil {
		return err
	}
	for _, e := range text {
		if err := writeTextChunk(w, e); err != nil {
			return err
		}
	}
	_, err := w.Write(data[ihdrEnd:])
	return err
}

func validKeyword(key string) bool {
	if key == "" || len(key) > 79 {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func writeTextChunk(w io.Writer, e Entry) error {
	if !validKeyword(e.Key) {
		return fmt.Errorf("invalid text keyword %q", e.Key)
	}

	chunkType := "tEXt"
	payload := make([]byte, 0, len(e.Key)+5+len(e.Value))
	payload = append(payload, e.Key...)
	payload = append(payload, 0)
	if !isASCII(e.Value) {
		// compression flag, method, empty language tag and translated keyword
		chunkType = "iTXt"
		payload = append(payload, 0, 0, 0, 0)
	}
	payload = append(payload, e.Value...)

	return writeChunk(w, chunkType, payload)
}

func writeChunk(w io.Writer, chunkType string, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, chunkType); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(payload)
	return binary.Write(w, binary.BigEndian, crc.Sum32())
}

// Read returns the text of every tEXt, zTXt and iTXt chunk in a PNG stream
// keyed by keyword. Latin-1 text is returned as UTF-8. Reading stops at IEND.
func Read(r io.Reader) (map[string]string, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, ErrNotPNG
	}

	retv := make(map[string]string)
	var hdr [8]byte
	for {
		_, err := io.ReadFull(r, hdr[:])
		if err == io.EOF {
			return retv, nil
		}
		if err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		chunkType := string(hdr[4:])
		if length > maxChunkLength {
			return nil, fmt.Errorf("%w: %s claims %d bytes", ErrChunkTooLarge, chunkType, length)
		}

		switch chunkType {
		case "tEXt", "zTXt", "iTXt":
			if length > MaxTextLength {
				return nil, fmt.Errorf("%w: %s claims %d bytes", ErrChunkTooLarge, chunkType, length)
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(length)))
			if err != nil {
				return nil, err
			}
			if len(data) != int(length) {
				return nil, io.ErrUnexpectedEOF
			}
			key, value, err := decodeText(chunkType, data)
			if err != nil {
				return nil, err
			}
			retv[key] = value
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// crc
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
		if chunkType == "IEND" {
			return retv, nil
		}
	}
}

func decodeText(chunkType string, data []byte) (string, string, error) {
	keywordEnd := bytes.IndexByte(data, 0)
	if keywordEnd < 1 {
		return "", "", fmt.Errorf("%w: %s without keyword", ErrMalformedText, chunkType)
	}
	key := latin1(data[:keywordEnd])
	rest := data[keywordEnd+1:]

	switch chunkType {
	case "tEXt":
		return key, latin1(rest), nil
	case "zTXt":
		if len(rest) < 1 {
			return "", "", fmt.Errorf("%w: zTXt %s", ErrMalformedText, key)
		}
		text, err := inflate(rest[1:])
		if err != nil {
			return "", "", err
		}
		return key, latin1(text), nil
	}

	// iTXt: flag, method, language\0, translated keyword\0, text
	if len(rest) < 2 {
		return "", "", fmt.Errorf("%w: iTXt %s", ErrMalformedText, key)
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	for i := 0; i < 2; i++ {
		end := bytes.IndexByte(rest, 0)
		if end == -1 {
			return "", "", fmt.Errorf("%w: iTXt %s", ErrMalformedText, key)
		}
		rest = rest[end+1:]
	}
	if compressed {
		text, err := inflate(rest)
		if err != nil {
			return "", "", err
		}
		rest = text
	}
	return key, string(rest), nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedText, err)
	}
	defer zr.Close()

	retv, err := io.ReadAll(io.LimitReader(zr, MaxTextLength+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedText, err)
	}
	if len(retv) > MaxTextLength {
		return nil, fmt.Errorf("%w: inflated text exceeds %d bytes", ErrChunkTooLarge, MaxTextLength)
	}
	return retv, nil
}

func latin1(b []byte) string {
	if isASCII(string(b)) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
