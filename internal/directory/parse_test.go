package directory

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDirectory = `<?xml version="1.0" encoding="UTF-8"?>
<result>
  <list>
    <corp_code>00126380</corp_code>
    <corp_name>삼성전자</corp_name>
    <stock_code>005930</stock_code>
    <modify_date>20240315</modify_date>
  </list>
  <list>
    <corp_code>00434003</corp_code>
    <corp_name>다코</corp_name>
    <stock_code> </stock_code>
    <modify_date>20170630</modify_date>
  </list>
  <list>
    <corp_code></corp_code>
    <corp_name>코드없음</corp_name>
    <stock_code>000001</stock_code>
  </list>
  <list>
    <corp_code>00164779</corp_code>
    <corp_name>SK하이닉스</corp_name>
    <stock_code>000660</stock_code>
    <modify_date>not-a-date</modify_date>
  </list>
</result>`

func zipPayload(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetectPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    PayloadKind
	}{
		{name: "zip magic", payload: []byte("PK\x03\x04rest"), want: PayloadZip},
		{name: "xml declaration", payload: []byte(`<?xml version="1.0"?><result/>`), want: PayloadXML},
		{name: "xml after whitespace and BOM", payload: []byte("\n \xEF\xBB\xBF<result/>"), want: PayloadXML},
		{name: "json error body", payload: []byte(`{"status":"020"}`), want: PayloadUnknown},
		{name: "empty", payload: nil, want: PayloadUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DetectPayload(tt.payload))
		})
	}
}

func TestParse_RawXML(t *testing.T) {
	t.Parallel()

	result, err := Parse([]byte(sampleDirectory), "")
	require.NoError(t, err)

	require.Len(t, result.Entities, 3)
	assert.Equal(t, 1, result.Skipped)

	assert.Equal(t, Entity{
		Code:       "00126380",
		Name:       "삼성전자",
		StockCode:  "005930",
		ModifiedAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}, result.Entities[0])
	assert.Empty(t, result.Entities[1].StockCode)
	assert.True(t, result.Entities[2].ModifiedAt.IsZero())
}

func TestParse_Zip(t *testing.T) {
	t.Parallel()

	t.Run("expected member matched case-insensitively", func(t *testing.T) {
		t.Parallel()

		payload := zipPayload(t, map[string]string{
			"corpcode.XML": sampleDirectory,
		})
		result, err := Parse(payload, DefaultMemberName)
		require.NoError(t, err)
		assert.Len(t, result.Entities, 3)
	})

	t.Run("falls back to any xml member", func(t *testing.T) {
		t.Parallel()

		payload := zipPayload(t, map[string]string{
			"README.txt":    "not xml",
			"directory.xml": sampleDirectory,
		})
		result, err := Parse(payload, DefaultMemberName)
		require.NoError(t, err)
		assert.Len(t, result.Entities, 3)
	})

	t.Run("no xml member", func(t *testing.T) {
		t.Parallel()

		payload := zipPayload(t, map[string]string{"README.txt": "not xml"})
		_, err := Parse(payload, DefaultMemberName)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDirectoryFetch))
	})
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty payload", payload: ""},
		{name: "unexpected payload", payload: `{"status":"020","message":"limit"}`},
		{name: "truncated document", payload: `<result><list><corp_code>00126380</corp_code>`},
		{name: "no valid records", payload: `<result><list><corp_code>1</corp_code></list></result>`},
		{name: "corrupt zip", payload: "PK\x03\x04garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.payload), DefaultMemberName)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDirectoryFetch), "got %v", err)
		})
	}
}

func TestListedOnly(t *testing.T) {
	t.Parallel()

	entities := []Entity{
		{Code: "1", Name: "a", StockCode: "005930"},
		{Code: "2", Name: "b", StockCode: "  "},
		{Code: "3", Name: "c"},
		{Code: "4", Name: "d", StockCode: "000660"},
	}

	listed := ListedOnly(entities)
	require.Len(t, listed, 2)
	assert.Equal(t, "1", listed[0].Code)
	assert.Equal(t, "4", listed[1].Code)
}
