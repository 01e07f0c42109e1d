package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// transactionDateLayout is the gateway's fixed-width numeric timestamp,
// e.g. 20250101123045.
const transactionDateLayout = "20060102150405"

// Callback is the parsed, validated form of a gateway result callback.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	// Success metadata; populated only when ResultCode == 0.
	Amount          int64
	ReceiptNumber   string
	PhoneNumber     string
	TransactionDate time.Time

	// Raw is the callback body exactly as received, kept on the ledger
	// record for audit.
	Raw json.RawMessage
}

type callbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        *int        `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes a gateway callback body. It fails closed: a payload
// missing the correlation id, the result code, or (on success) the receipt
// or a parseable transaction date is an anomaly, not a silent success.
func ParseCallback(body []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("malformed callback body: %w", err)
	}

	stk := env.Body.STKCallback
	if stk.CheckoutRequestID == "" && stk.MerchantRequestID == "" {
		return nil, fmt.Errorf("callback carries no correlation id")
	}
	if stk.ResultCode == nil {
		return nil, fmt.Errorf("callback missing ResultCode")
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        *stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
		Raw:               json.RawMessage(bytes.TrimSpace(body)),
	}

	if cb.ResultCode != 0 {
		return cb, nil
	}

	if stk.CallbackMetadata == nil {
		return nil, fmt.Errorf("success callback missing CallbackMetadata")
	}

	var rawDate string
	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if n, ok := asInt64(item.Value); ok {
				cb.Amount = n
			}
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				cb.ReceiptNumber = s
			}
		case "PhoneNumber":
			if n, ok := asInt64(item.Value); ok {
				cb.PhoneNumber = strconv.FormatInt(n, 10)
			} else if s, ok := item.Value.(string); ok {
				cb.PhoneNumber = s
			}
		case "TransactionDate":
			switch v := item.Value.(type) {
			case json.Number:
				rawDate = v.String()
			case string:
				rawDate = v
			}
		}
	}

	if cb.ReceiptNumber == "" {
		return nil, fmt.Errorf("success callback missing MpesaReceiptNumber")
	}
	if rawDate == "" {
		return nil, fmt.Errorf("success callback missing TransactionDate")
	}

	ts, err := time.ParseInLocation(transactionDateLayout, rawDate, nairobiTime())
	if err != nil {
		return nil, fmt.Errorf("unparseable TransactionDate %q: %w", rawDate, err)
	}
	cb.TransactionDate = ts

	return cb, nil
}

func asInt64(v interface{}) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	// gateway sends whole-unit amounts; a fractional value here is a
	// malformed payload and parses as absent
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}

// nairobiTime resolves the gateway's local zone; transaction dates arrive
// without an offset. Falls back to a fixed +3 offset when tzdata is absent.
func nairobiTime() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}
