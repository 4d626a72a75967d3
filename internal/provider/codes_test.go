package provider

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		raw  int
		want Code
	}{
		{"prepare ok", OpPrepare, 0, CodeSuccess},
		{"prepare needs verification", OpPrepare, -401, CodeNeedsVerification},
		{"prepare unknown project", OpPrepare, 100080, CodeFatal},
		{"prepare unknown screen", OpPrepare, 100082, CodeFatal},
		{"prepare sale closed", OpPrepare, 100039, CodeFatal},
		{"prepare other", OpPrepare, 900001, CodeUnclassified},
		{"create ok", OpCreateOrder, 0, CodeSuccess},
		{"create token expired low", OpCreateOrder, 100050, CodeTokenExpired},
		{"create token expired mid", OpCreateOrder, 100055, CodeTokenExpired},
		{"create token expired high", OpCreateOrder, 100059, CodeTokenExpired},
		{"create sold out", OpCreateOrder, 219, CodeInventoryExhausted},
		{"create sold out alt", OpCreateOrder, 100009, CodeInventoryExhausted},
		{"create hold", OpCreateOrder, 3, CodeTransientHold},
		{"create unpaid order", OpCreateOrder, 100079, CodeUnclassified},
		{"create unpaid order alt", OpCreateOrder, 100048, CodeUnclassified},
		{"create limit reached", OpCreateOrder, 100049, CodeFatal},
		{"create buyer info", OpCreateOrder, 209001, CodeFatal},
		{"create not on sale", OpCreateOrder, 100016, CodeFatal},
		{"create not on sale alt", OpCreateOrder, 100017, CodeFatal},
		{"create unknown", OpCreateOrder, 1, CodeUnclassified},
		{"risk validate ok", OpRiskValidate, 0, CodeSuccess},
		{"risk validate fail", OpRiskValidate, -111, CodeUnclassified},
		{"needs verification only on prepare", OpCreateOrder, -401, CodeUnclassified},
		{"token range only on create", OpPrepare, 100051, CodeUnclassified},
		{"hold only on create", OpPrepare, 3, CodeUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Classify(tt.op, tt.raw)
			if got != tt.want {
				t.Errorf("Classify(%s, %d) = %s, want %s", tt.op, tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassify_FatalHasReason(t *testing.T) {
	for raw := range fatalReasons {
		code, reason := Classify(OpCreateOrder, raw)
		if code != CodeFatal {
			t.Errorf("Classify(%d) = %s, want fatal", raw, code)
		}
		if reason == "" {
			t.Errorf("fatal code %d has no reason", raw)
		}
	}
}

func TestCode_String(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeSuccess, "success"},
		{CodeNeedsVerification, "needs_verification"},
		{CodeTokenExpired, "token_expired"},
		{CodeInventoryExhausted, "inventory_exhausted"},
		{CodeTransientHold, "transient_hold"},
		{CodeFatal, "fatal"},
		{CodeUnclassified, "unclassified"},
		{Code(99), "unclassified"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("Code(%d).String() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(OpCreateOrder, 100049, "already bought")
	if resp.Code != CodeFatal {
		t.Errorf("Code = %s, want fatal", resp.Code)
	}
	if resp.Raw != 100049 {
		t.Errorf("Raw = %d, want 100049", resp.Raw)
	}
	if resp.Reason == "" {
		t.Error("Reason should be set for fatal codes")
	}
	if resp.OK() {
		t.Error("OK() = true for fatal response")
	}
}

func TestChallenge_Supported(t *testing.T) {
	tests := []struct {
		kind ChallengeKind
		want bool
	}{
		{ChallengeGeetest, true},
		{ChallengePhone, true},
		{ChallengeNone, true},
		{ChallengeKind("biometric"), false},
		{ChallengeKind(""), false},
	}
	for _, tt := range tests {
		if got := (Challenge{Kind: tt.kind}).Supported(); got != tt.want {
			t.Errorf("Challenge{%q}.Supported() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
