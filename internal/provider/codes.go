package provider

import "fmt"

// Code is the normalized outcome of a provider call. The purchase workflow
// branches on Code only; raw provider integers never leave this package
// except for logging.
type Code int

const (
	CodeUnclassified Code = iota
	CodeSuccess
	CodeNeedsVerification
	CodeTokenExpired
	CodeInventoryExhausted
	CodeTransientHold
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeNeedsVerification:
		return "needs_verification"
	case CodeTokenExpired:
		return "token_expired"
	case CodeInventoryExhausted:
		return "inventory_exhausted"
	case CodeTransientHold:
		return "transient_hold"
	case CodeFatal:
		return "fatal"
	default:
		return "unclassified"
	}
}

// Operation names the provider call a raw code came from. The same raw
// integer can mean different things on different endpoints.
type Operation string

const (
	OpProjectInfo  Operation = "project_info"
	OpPrepare      Operation = "prepare"
	OpRiskInfo     Operation = "risk_info"
	OpRiskValidate Operation = "risk_validate"
	OpCreateOrder  Operation = "create_order"
	OpCreateStatus Operation = "create_status"
	OpOrderInfo    Operation = "order_info"
)

// Raw codes with special meaning.
const (
	RawOK                 = 0
	RawRiskRequired       = -401
	RawHold               = 3
	RawSoldOut            = 219
	RawSoldOutAlt         = 100009
	RawNotOnSale          = 100016
	RawNotOnSaleAlt       = 100017
	RawSaleClosed         = 100039
	RawUnpaidOrder        = 100048
	RawAlreadyPurchased   = 100049
	RawTokenExpiredLow    = 100050
	RawTokenExpiredHigh   = 100059
	RawUnpaidOrderAlt     = 100079
	RawUnknownProject     = 100080
	RawUnknownScreenOrSku = 100082
	RawAlreadyVerified    = 100000
	RawBuyerInfoRequired  = 209001
)

// fatalReasons lists raw codes that end the run on any endpoint.
var fatalReasons = map[int]string{
	RawUnknownProject:     "project, screen or price tier does not exist",
	RawUnknownScreenOrSku: "project, screen or price tier does not exist",
	RawSaleClosed:         "sale period is closed",
	RawAlreadyPurchased:   "per-person purchase limit already reached",
	RawBuyerInfoRequired:  "activity requires contact details, only real-name one-ticket-per-person activities are supported",
	RawNotOnSale:          "project or ticket tier is not on sale",
	RawNotOnSaleAlt:       "project or ticket tier is not on sale",
}

// softReasons are non-fatal codes worth a specific log message.
var softReasons = map[int]string{
	RawUnpaidOrder:    "an unpaid or unfinished order exists, pay it soon",
	RawUnpaidOrderAlt: "an unpaid or unfinished order exists, pay it soon",
	RawHold:           "request throttled, waiting a few seconds",
}

// Classify maps a raw provider code from op to a Code and a human-readable
// reason (empty when the code needs no explanation).
func Classify(op Operation, raw int) (Code, string) {
	if reason, ok := fatalReasons[raw]; ok {
		return CodeFatal, reason
	}
	if raw == RawOK {
		return CodeSuccess, ""
	}

	switch op {
	case OpPrepare:
		if raw == RawRiskRequired {
			return CodeNeedsVerification, "verification required"
		}
	case OpCreateOrder:
		switch {
		case raw >= RawTokenExpiredLow && raw <= RawTokenExpiredHigh:
			return CodeTokenExpired, "token expired"
		case raw == RawSoldOut || raw == RawSoldOutAlt:
			return CodeInventoryExhausted, "insufficient inventory"
		case raw == RawHold:
			return CodeTransientHold, softReasons[raw]
		}
	}

	if reason, ok := softReasons[raw]; ok {
		return CodeUnclassified, reason
	}
	return CodeUnclassified, ""
}

// Response is a classified provider reply.
type Response struct {
	Code    Code
	Raw     int
	Message string
	Reason  string
}

// NewResponse classifies raw for op.
func NewResponse(op Operation, raw int, message string) Response {
	code, reason := Classify(op, raw)
	return Response{Code: code, Raw: raw, Message: message, Reason: reason}
}

// OK reports whether the response is a success.
func (r Response) OK() bool { return r.Code == CodeSuccess }

func (r Response) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s (%d): %s", r.Code, r.Raw, r.Reason)
	}
	return fmt.Sprintf("%s (%d): %s", r.Code, r.Raw, r.Message)
}
