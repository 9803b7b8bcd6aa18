package qris

import (
	"strconv"
	"strings"
)

// Detail is one transaction-detail record as the portal reports it. Display
// amounts stay strings; their numeric twins are pointers because the portal
// omits or blanks them on some transaction kinds, and null must stay
// distinguishable from zero.
type Detail struct {
	ReffNumber           string   `json:"reffNumber"`
	SeqNumber            string   `json:"seqNumber"`
	TransferFlag         string   `json:"transferFlag"`
	TransferAmount       string   `json:"transferAmount"`
	TransferAmountNumber *float64 `json:"transferAmountNumber"`
	FeeAmount            string   `json:"feeAmount"`
	FeeAmountNumber      *float64 `json:"feeAmountNumber"`
	AuthAmount           string   `json:"authAmount"`
	AuthAmountNumber     *float64 `json:"authAmountNumber"`
	PercentageFee        string   `json:"percentageFee"`
	PercentageFeeNumber  *float64 `json:"percentageFeeNumber"`
	IssuerName           string   `json:"issuerName"`
	CustomerName         string   `json:"customerName"`
	MerchantPan          string   `json:"merchantPan"`
	TerminalID           string   `json:"terminalId"`
	CustomerPan          string   `json:"customerPan"`
	AuthDate             string   `json:"authDate"`
	UpdateDate           string   `json:"updateDate"`
	SettlementDate       string   `json:"settlementDate"`
}

// DetailFromMap coerces one collected envelope object into a Detail.
// Field types in the envelope drift between portal revisions (numbers
// arrive as strings and vice versa), so every field is coerced, never
// asserted.
func DetailFromMap(m map[string]any) Detail {
	return Detail{
		ReffNumber:           stringField(m, "reffNumber"),
		SeqNumber:            stringField(m, "seqNumber"),
		TransferFlag:         stringField(m, "transferFlag"),
		TransferAmount:       stringField(m, "transferAmount"),
		TransferAmountNumber: numberField(m, "transferAmountNumber"),
		FeeAmount:            stringField(m, "feeAmount"),
		FeeAmountNumber:      numberField(m, "feeAmountNumber"),
		AuthAmount:           stringField(m, "authAmount"),
		AuthAmountNumber:     numberField(m, "authAmountNumber"),
		PercentageFee:        stringField(m, "percentageFee"),
		PercentageFeeNumber:  numberField(m, "percentageFeeNumber"),
		IssuerName:           stringField(m, "issuerName"),
		CustomerName:         stringField(m, "customerName"),
		MerchantPan:          stringField(m, "merchantPan"),
		TerminalID:           stringField(m, "terminalId"),
		CustomerPan:          stringField(m, "customerPan"),
		AuthDate:             stringField(m, "authDate"),
		UpdateDate:           stringField(m, "updateDate"),
		SettlementDate:       stringField(m, "settlementDate"),
	}
}

// HasReff reports whether the record carries the natural identity the store
// keys on. Records without one are partial rows the portal sometimes emits
// mid-settlement; they are skipped, not errors.
func (d Detail) HasReff() bool {
	return d.ReffNumber != ""
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case string:
		return parseAmount(v)
	default:
		return nil
	}
}

// parseAmount transforms a display amount ("50,000.00", "50 000") into its
// numeric value. Anything unparsable maps to nil rather than zero.
func parseAmount(s string) *float64 {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil
	}

	floatVal, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &floatVal
}
