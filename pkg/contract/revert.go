package contract

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Revert reasons produced by the registry.
const (
	ReasonEmptyPatient    = "Patient hash required"
	ReasonEmptyIPFS       = "IPFS hash required"
	ReasonNotFound        = "Prescription does not exist"
	ReasonAlreadyVerified = "Prescription already verified"
)

// revertSelector is the 4-byte id of Error(string).
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

var revertArgs = abi.Arguments{{Type: mustType("string")}}

// EncodeRevert returns the Solidity Error(string) return data for reason.
func EncodeRevert(reason string) []byte {
	packed, err := revertArgs.Pack(reason)
	if err != nil {
		// Packing a single string cannot fail.
		panic(err)
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

// DecodeRevert extracts the reason from Error(string) return data.
func DecodeRevert(data []byte) (string, error) {
	return abi.UnpackRevert(data)
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
