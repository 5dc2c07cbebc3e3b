// Package contract holds the fixed interface of the prescription registry
// contract: its ABI, method and event names, and Solidity revert encoding.
package contract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names.
const (
	MethodGetPrescription    = "getPrescription"
	MethodAddPrescription    = "addPrescription"
	MethodVerifyPrescription = "verifyPrescription"
	MethodPrescriptionCount  = "prescriptionCount"
)

// Event names.
const (
	EventPrescriptionAdded    = "PrescriptionAdded"
	EventPrescriptionVerified = "PrescriptionVerified"
)

// RegistryABI is the JSON interface description of the registry contract.
const RegistryABI = `[
  {"type":"function","name":"getPrescription","stateMutability":"view",
   "inputs":[{"name":"_id","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"patientHash","type":"string"},
     {"name":"ipfsHash","type":"string"},
     {"name":"doctor","type":"address"},
     {"name":"timestamp","type":"uint256"},
     {"name":"verified","type":"bool"}]},
  {"type":"function","name":"addPrescription","stateMutability":"nonpayable",
   "inputs":[{"name":"_patientHash","type":"string"},{"name":"_ipfsHash","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"verifyPrescription","stateMutability":"nonpayable",
   "inputs":[{"name":"_id","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"prescriptionCount","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"PrescriptionAdded","anonymous":false,
   "inputs":[
     {"name":"id","type":"uint256","indexed":true},
     {"name":"doctor","type":"address","indexed":true},
     {"name":"patientHash","type":"string","indexed":false},
     {"name":"ipfsHash","type":"string","indexed":false}]},
  {"type":"event","name":"PrescriptionVerified","anonymous":false,
   "inputs":[
     {"name":"id","type":"uint256","indexed":true},
     {"name":"verifier","type":"address","indexed":true}]}
]`

var (
	parsedOnce sync.Once
	parsed     abi.ABI
	parseErr   error
)

// ABI returns the parsed registry ABI.
func ABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsed, parseErr = abi.JSON(strings.NewReader(RegistryABI))
		if parseErr != nil {
			parseErr = fmt.Errorf("parse registry abi: %w", parseErr)
		}
	})
	return parsed, parseErr
}

// MustABI is like ABI but panics on error. RegistryABI is a constant, so
// a failure here is a programming error.
func MustABI() abi.ABI {
	a, err := ABI()
	if err != nil {
		panic(err)
	}
	return a
}
