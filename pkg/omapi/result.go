package omapi

import "fmt"

// Result is an ISC result code as transported in the "result" value
// of a status message
type Result uint32

// ISC result codes. The numeric values are part of the wire protocol
const (
	ResultSuccess        Result = 0
	ResultNoMemory       Result = 1
	ResultTimedOut       Result = 2
	ResultNoPermission   Result = 6
	ResultNoConn         Result = 7
	ResultConnRefused    Result = 12
	ResultEOF            Result = 14
	ResultExists         Result = 18
	ResultNoSpace        Result = 19
	ResultCanceled       Result = 20
	ResultNotFound       Result = 23
	ResultUnexpectedEnd  Result = 24
	ResultFailure        Result = 25
	ResultIOError        Result = 26
	ResultNotImplemented Result = 27
	ResultBadBase64      Result = 31
	ResultUnexpected     Result = 34
	ResultNotConnected   Result = 40
	ResultRange          Result = 41
)

var resultText = map[Result]string{
	ResultSuccess:        "success",
	ResultNoMemory:       "out of memory",
	ResultTimedOut:       "timed out",
	ResultNoPermission:   "permission denied",
	ResultNoConn:         "no connection",
	ResultConnRefused:    "connection refused",
	ResultEOF:            "end of file",
	ResultExists:         "already exists",
	ResultNoSpace:        "ran out of space",
	ResultCanceled:       "operation canceled",
	ResultNotFound:       "not found",
	ResultUnexpectedEnd:  "unexpected end of input",
	ResultFailure:        "failure",
	ResultIOError:        "I/O error",
	ResultNotImplemented: "not implemented",
	ResultBadBase64:      "bad base64 encoding",
	ResultUnexpected:     "unexpected error",
	ResultNotConnected:   "socket is not connected",
	ResultRange:          "out of range",
}

// String returns the ISC textual form of r
func (r Result) String() string {
	if s, ok := resultText[r]; ok {
		return s
	}

	return fmt.Sprintf("unknown result code %d", uint32(r))
}

// Status is the outcome of a submitted operation as reported by the server
type Status struct {
	// Result is the result code sent by the server
	Result Result

	// Message is the optional human readable text sent along with
	// Result
	Message string
}

// OK returns true if the operation succeeded
func (s Status) OK() bool {
	return s.Result == ResultSuccess
}

// Text returns the server provided message or the textual form
// of the result code if the server did not send one
func (s Status) Text() string {
	if s.Message != "" {
		return s.Message
	}

	return s.Result.String()
}

func (s Status) String() string {
	return s.Text()
}
