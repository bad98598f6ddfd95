package export

import (
	"strings"

	"github.com/pkg/errors"
)

// Format is a requested output format
type Format string

const (
	PlainText    Format = "plain-text"
	WordDocument Format = "word-document"
	Spreadsheet  Format = "spreadsheet"
	IDRecord     Format = "id-record"
)

// Source identifies where the exported text came from; it picks the filename stem
type Source string

const (
	SourceLive    Source = "live"
	SourceUpload  Source = "upload"
	SourceSummary Source = "summary"
)

// ErrUnknownFormat is returned for format names outside the table
var ErrUnknownFormat = errors.New("unknown export format")

type formatSpec struct {
	keyword     string
	extension   string
	contentType string
}

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	contentTypeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// formats is the single lookup shared by the API, the CLI and the exporter
var formats = map[Format]formatSpec{
	PlainText:    {keyword: "txt", extension: ".txt", contentType: contentTypeText},
	WordDocument: {keyword: "docx", extension: ".docx", contentType: contentTypeDocx},
	Spreadsheet:  {keyword: "excel", extension: ".xlsx", contentType: contentTypeXlsx},
	IDRecord:     {keyword: "idcard", extension: ".xlsx", contentType: contentTypeXlsx},
}

var stems = map[Source]string{
	SourceLive:    "captured_text",
	SourceUpload:  "extracted_text",
	SourceSummary: "summary",
}

const idRecordStem = "id_card_data"

// ParseFormat accepts a format name or its backend keyword, case-insensitively
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for format, spec := range formats {
		if s == string(format) || s == spec.keyword {
			return format, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", s)
}

// Formats lists every supported format
func Formats() []Format {
	return []Format{PlainText, WordDocument, Spreadsheet, IDRecord}
}

// Keyword is the name the conversion backend knows the format by
func (f Format) Keyword() string { return formats[f].keyword }

// Extension includes the leading dot
func (f Format) Extension() string { return formats[f].extension }

// ContentType of the produced artifact
func (f Format) ContentType() string { return formats[f].contentType }

// Valid reports whether f is in the table
func (f Format) Valid() bool {
	_, ok := formats[f]
	return ok
}

// Filename returns the download name for an artifact of format f from source
func Filename(f Format, source Source) string {
	if f == IDRecord {
		return idRecordStem + f.Extension()
	}
	stem, ok := stems[source]
	if !ok {
		stem = stems[SourceLive]
	}
	return stem + f.Extension()
}
