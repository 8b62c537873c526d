package directory

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"
	"time"
)

const (
	// DefaultMemberName is the directory document inside the compressed payload
	DefaultMemberName = "CORPCODE.xml"

	recordElement  = "list"
	modifiedLayout = "20060102"

	// maxMemberSize caps the decompressed document size
	maxMemberSize = 512 * 1024 * 1024
)

var (
	zipMagic = []byte("PK\x03\x04")
	utf8BOM  = []byte("\xEF\xBB\xBF")
)

// PayloadKind identifies how a directory payload is encoded
type PayloadKind int

const (
	// PayloadUnknown is neither a zip container nor an XML document
	PayloadUnknown PayloadKind = iota
	// PayloadZip is a zip container holding the XML document
	PayloadZip
	// PayloadXML is the XML document itself
	PayloadXML
)

// ParseResult holds the entities decoded from a payload
type ParseResult struct {
	Entities []Entity

	// Skipped counts records dropped for a missing code or name
	Skipped int
}

type listRecord struct {
	Code       string `xml:"corp_code"`
	Name       string `xml:"corp_name"`
	StockCode  string `xml:"stock_code"`
	ModifyDate string `xml:"modify_date"`
}

// DetectPayload classifies a payload by its leading bytes
func DetectPayload(payload []byte) PayloadKind {
	if bytes.HasPrefix(payload, zipMagic) {
		return PayloadZip
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(bytes.TrimLeft(payload, " \t\r\n"), utf8BOM), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return PayloadXML
	}
	return PayloadUnknown
}

// Parse decodes a zip or raw XML directory payload.
// memberName selects the zip member, matched case-insensitively; when it is absent
// the first member with an .xml extension is used.
func Parse(payload []byte, memberName string) (*ParseResult, error) {
	if len(payload) == 0 {
		return nil, fetchError(nil, "empty directory payload")
	}

	switch DetectPayload(payload) {
	case PayloadZip:
		doc, err := extractMember(payload, memberName)
		if err != nil {
			return nil, err
		}
		return decodeList(doc)
	case PayloadXML:
		return decodeList(bytes.NewReader(payload))
	default:
		return nil, fetchError(nil, "unexpected directory payload starting with %q", head(payload))
	}
}

func extractMember(payload []byte, memberName string) (io.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fetchError(err, "failed to open directory archive")
	}

	if memberName == "" {
		memberName = DefaultMemberName
	}

	var chosen *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), memberName) {
			chosen = f
			break
		}
		if chosen == nil && strings.EqualFold(path.Ext(f.Name), ".xml") {
			chosen = f
		}
	}
	if chosen == nil {
		return nil, fetchError(nil, "no XML member in directory archive")
	}

	rc, err := chosen.Open()
	if err != nil {
		return nil, fetchError(err, "failed to open archive member %s", chosen.Name)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
	if err != nil {
		return nil, fetchError(err, "failed to read archive member %s", chosen.Name)
	}
	return bytes.NewReader(data), nil
}

// decodeList streams the document and turns every list element into an entity
func decodeList(r io.Reader) (*ParseResult, error) {
	dec := xml.NewDecoder(r)
	result := &ParseResult{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fetchError(err, "malformed directory document")
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != recordElement {
			continue
		}

		var rec listRecord
		if err := dec.DecodeElement(&rec, &se); err != nil {
			return nil, fetchError(err, "malformed directory record")
		}

		code := strings.TrimSpace(rec.Code)
		name := strings.TrimSpace(rec.Name)
		if code == "" || name == "" {
			result.Skipped++
			continue
		}

		entity := Entity{
			Code:      code,
			Name:      name,
			StockCode: strings.TrimSpace(rec.StockCode),
		}
		if t, err := time.Parse(modifiedLayout, strings.TrimSpace(rec.ModifyDate)); err == nil {
			entity.ModifiedAt = t
		}
		result.Entities = append(result.Entities, entity)
	}

	if len(result.Entities) == 0 {
		return nil, fetchError(nil, "directory document has no valid records (%d skipped)", result.Skipped)
	}
	return result, nil
}

func head(payload []byte) string {
	const n = 64
	if len(payload) > n {
		payload = payload[:n]
	}
	return strings.Join(strings.Fields(string(payload)), " ")
}
