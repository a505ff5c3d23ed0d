// Package replayerrors holds the error taxonomy of the replay interpreter.
// Every error string has the shape "<code>|<Name>: <description>"; the letter
// of the code names the category.
package replayerrors

import (
	"errors"
	"strings"
)

// Decode (D) Errors
var (
	ErrDUnknownInstruction = errors.New("D1|UnknownInstruction: Opcode carries an unrecognized instruction code.")
	ErrDUnknownType        = errors.New("D2|UnknownType: Opcode carries an unrecognized base type tag.")
	ErrDMalformedAssembly  = errors.New("D3|MalformedAssembly: Instruction text cannot be encoded.")
)

// Stack (S) Errors
var (
	ErrSStackOverflow  = errors.New("S1|StackOverflow: Push beyond the stack capacity.")
	ErrSStackUnderflow = errors.New("S2|StackUnderflow: Pop from an empty stack.")
	ErrSTypeMismatch   = errors.New("S3|TypeMismatch: Stack value does not carry the expected base type.")
)

// Address safety (A) Errors
var (
	ErrANullAddress       = errors.New("A1|NullAddress: Memory access through a null address.")
	ErrAUnobservedAddress = errors.New("A2|UnobservedAddress: Memory access outside any observed region.")
	ErrAConstantWrite     = errors.New("A3|ConstantWrite: Write to constant memory.")
	ErrANotConstant       = errors.New("A4|NotConstant: Constant load outside the constant segment.")
	ErrANotVolatile       = errors.New("A5|NotVolatile: Volatile access outside the reserved volatile segment.")
	ErrAOutOfRange        = errors.New("A6|OutOfRange: Access runs past the end of its region.")
	ErrAVolatileExhausted = errors.New("A7|VolatileExhausted: Volatile reservation exceeds capacity.")
)

// Function resolution (F) Errors
var (
	ErrFUnknownFunction  = errors.New("F1|UnknownFunction: Function id has no entry in its table.")
	ErrFApiNotRegistered = errors.New("F2|ApiNotRegistered: Renderer functions for the api could not be registered.")
	ErrFNoReturnValue    = errors.New("F3|NoReturnValue: Call asked for a return value the function did not produce.")
	ErrFMissingProvider  = errors.New("F4|MissingProvider: No resource provider or post sink is installed.")
)

// Native call (N) Errors
var (
	ErrNNativeCallFailed = errors.New("N1|NativeCallFailed: Invoked builtin or renderer function reported failure.")
)

// Capture store (C) Errors
var (
	ErrCCaptureNotFound  = errors.New("C1|CaptureNotFound: No capture stored under the given id.")
	ErrCResourceNotFound = errors.New("C2|ResourceNotFound: No resource stored under the given id.")
	ErrCCorruptCapture   = errors.New("C3|CorruptCapture: Stored capture cannot be decoded.")
)

// Category names the failure class for an error code prefix.
func Category(err error) string {
	code := GetErrorCode(err)
	if code == "" {
		return ""
	}
	switch code[0] {
	case 'D':
		return "DecodeError"
	case 'S':
		if code == "S1" || code == "S2" {
			return GetErrorName(err)
		}
		return "DecodeError"
	case 'A':
		return "AddressSafetyViolation"
	case 'F':
		return "FunctionResolutionFailure"
	case 'N':
		return "NativeCallFailure"
	case 'C':
		return "CaptureError"
	}
	return ""
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
