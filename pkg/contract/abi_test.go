package contract

import (
	"math/big"
	"testing"
)

func TestABI_Methods(t *testing.T) {
	a, err := ABI()
	if err != nil {
		t.Fatalf("ABI() error: %v", err)
	}
	for _, name := range []string{
		MethodGetPrescription,
		MethodAddPrescription,
		MethodVerifyPrescription,
		MethodPrescriptionCount,
	} {
		if _, ok := a.Methods[name]; !ok {
			t.Errorf("method %q missing", name)
		}
	}
	for _, name := range []string{EventPrescriptionAdded, EventPrescriptionVerified} {
		if _, ok := a.Events[name]; !ok {
			t.Errorf("event %q missing", name)
		}
	}

	get := a.Methods[MethodGetPrescription]
	if len(get.Outputs) != 6 {
		t.Errorf("getPrescription outputs = %d, want 6", len(get.Outputs))
	}
	if !get.IsConstant() {
		t.Error("getPrescription should be a view method")
	}
}

func TestABI_PackRoundTrip(t *testing.T) {
	a := MustABI()
	input, err := a.Pack(MethodAddPrescription, "p1", "QmX")
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	m, err := a.MethodById(input[:4])
	if err != nil {
		t.Fatalf("MethodById() error: %v", err)
	}
	if m.Name != MethodAddPrescription {
		t.Fatalf("method = %q", m.Name)
	}
	args, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if args[0].(string) != "p1" || args[1].(string) != "QmX" {
		t.Errorf("args = %v", args)
	}

	input, err = a.Pack(MethodVerifyPrescription, big.NewInt(3))
	if err != nil {
		t.Fatalf("Pack() error: %v", err)
	}
	if len(input) != 4+32 {
		t.Errorf("verifyPrescription input length = %d, want 36", len(input))
	}
}

func TestRevert_RoundTrip(t *testing.T) {
	data := EncodeRevert(ReasonAlreadyVerified)
	reason, err := DecodeRevert(data)
	if err != nil {
		t.Fatalf("DecodeRevert() error: %v", err)
	}
	if reason != ReasonAlreadyVerified {
		t.Errorf("reason = %q, want %q", reason, ReasonAlreadyVerified)
	}

	if _, err := DecodeRevert([]byte{1, 2, 3, 4}); err == nil {
		t.Error("expected error for non-revert data")
	}
}
