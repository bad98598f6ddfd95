// Package datauri encodes and decodes base64 data URIs such as the
// "data:image/jpeg;base64,..." snapshots produced by browser cameras.
package datauri

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ChunkSize is the number of decoded bytes produced per decode step
const ChunkSize = 512

// ErrMalformed is returned for anything that is not a base64 data URI
var ErrMalformed = errors.New("malformed data URI")

const defaultMIMEType = "application/octet-stream"

// URI is a parsed data URI. Payload is still base64 encoded.
type URI struct {
	MIMEType string
	Payload  string
}

// Parse splits a data URI into its media type and base64 payload
func Parse(s string) (URI, error) {
	if !strings.HasPrefix(s, "data:") {
		return URI{}, errors.Wrap(ErrMalformed, "missing data: scheme")
	}

	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return URI{}, errors.Wrap(ErrMalformed, "missing payload separator")
	}

	params := strings.Split(header, ";")
	if len(params) < 2 || params[len(params)-1] != "base64" {
		return URI{}, errors.Wrap(ErrMalformed, "payload is not base64")
	}

	mimeType := params[0]
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	return URI{MIMEType: mimeType, Payload: payload}, nil
}

// Bytes decodes the payload in ChunkSize steps so a large image never needs
// a second full-size intermediate copy.
func (u URI) Bytes() ([]byte, error) {
	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(u.Payload))

	var out bytes.Buffer
	out.Grow(base64.StdEncoding.DecodedLen(len(u.Payload)))

	chunk := make([]byte, ChunkSize)
	for {
		n, err := decoder.Read(chunk)
		out.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "decode payload: %v", err)
		}
	}

	return out.Bytes(), nil
}

// String renders the URI back to its textual form
func (u URI) String() string {
	return "data:" + u.MIMEType + ";base64," + u.Payload
}

// Decode parses s and returns the raw bytes and media type
func Decode(s string) ([]byte, string, error) {
	uri, err := Parse(s)
	if err != nil {
		return nil, "", err
	}

	data, err := uri.Bytes()
	if err != nil {
		return nil, "", err
	}

	return data, uri.MIMEType, nil
}

// Encode builds a data URI from raw bytes
func Encode(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	return URI{MIMEType: mimeType, Payload: base64.StdEncoding.EncodeToString(data)}.String()
}

// FileExtension maps an image media type to a file extension
func FileExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
