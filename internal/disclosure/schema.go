package disclosure

import (
	"encoding/xml"
	"strings"
	"time"
)

const dateLayout = "20060102"

// Report is one filing returned by the report list endpoint
type Report struct {
	ReceiptNo   string    `json:"receiptNo"`
	Name        string    `json:"name"`
	CorpCode    string    `json:"corpCode"`
	CorpName    string    `json:"corpName,omitempty"`
	FilerName   string    `json:"filerName,omitempty"`
	ReceiptDate time.Time `json:"receiptDate,omitzero"`
	Remark      string    `json:"remark,omitempty"`
}

// FiledAt returns the receipt date, falling back to the date encoded in the
// first eight digits of the receipt number
func (r Report) FiledAt() (time.Time, bool) {
	if !r.ReceiptDate.IsZero() {
		return r.ReceiptDate, true
	}
	if len(r.ReceiptNo) >= 8 {
		if t, err := time.Parse(dateLayout, r.ReceiptNo[:8]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Document is the text content of one filing
type Document struct {
	ReceiptNo string

	// Text is the concatenated content of every XML or HTML member
	Text string

	// Members is the number of archive members that contributed text
	Members int
}

// listResponse is the body of the report list endpoint
type listResponse struct {
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	PageNo     int        `json:"page_no"`
	PageCount  int        `json:"page_count"`
	TotalCount int        `json:"total_count"`
	TotalPage  int        `json:"total_page"`
	List       []listItem `json:"list"`
}

type listItem struct {
	CorpCode    string `json:"corp_code"`
	CorpName    string `json:"corp_name"`
	StockCode   string `json:"stock_code"`
	CorpClass   string `json:"corp_cls"`
	ReportName  string `json:"report_nm"`
	ReceiptNo   string `json:"rcept_no"`
	FilerName   string `json:"flr_nm"`
	ReceiptDate string `json:"rcept_dt"`
	Remark      string `json:"rm"`
}

func (it listItem) toReport() (Report, bool) {
	r := Report{
		ReceiptNo: strings.TrimSpace(it.ReceiptNo),
		Name:      strings.TrimSpace(it.ReportName),
		CorpCode:  strings.TrimSpace(it.CorpCode),
		CorpName:  strings.TrimSpace(it.CorpName),
		FilerName: strings.TrimSpace(it.FilerName),
		Remark:    strings.TrimSpace(it.Remark),
	}
	if r.ReceiptNo == "" || r.Name == "" {
		return Report{}, false
	}
	if t, err := time.Parse(dateLayout, strings.TrimSpace(it.ReceiptDate)); err == nil {
		r.ReceiptDate = t
	}
	return r, true
}

// statusEnvelope is the XML error body the document endpoint returns instead of an archive
type statusEnvelope struct {
	XMLName xml.Name `xml:"result"`
	Status  string   `xml:"status"`
	Message string   `xml:"message"`
}
