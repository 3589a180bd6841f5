package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// ResponseKind discriminates the agent wire envelope.
type ResponseKind int

const (
	ResponseOk ResponseKind = iota
	ResponseError
	// ResponseUnrecognized covers envelopes carrying neither "result" nor
	// "error" — valid JSON from a newer or older agent. Callers should
	// treat it as a warning, not a stream failure.
	ResponseUnrecognized
)

// Response is the decoded form of one wire line.
type Response struct {
	Kind ResponseKind
	Scan ScanResult
	Err  string
}

// envelope is the wire shape: exactly one of Result or Error is set.
type envelope struct {
	Result *ScanResult `json:"result,omitempty"`
	Error  *string     `json:"error,omitempty"`
}

// DecodeLine parses one newline-delimited agent response. Malformed JSON is
// a decode error; a well-formed envelope with an unknown shape decodes to
// ResponseUnrecognized.
func DecodeLine(line []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Response{}, fmt.Errorf("malformed agent response: %w", err)
	}
	switch {
	case env.Result != nil:
		r := *env.Result
		r.Ports = NormalizePorts(r.Ports)
		return Response{Kind: ResponseOk, Scan: r}, nil
	case env.Error != nil:
		return Response{Kind: ResponseError, Err: *env.Error}, nil
	default:
		return Response{Kind: ResponseUnrecognized}, nil
	}
}

// EncodeScan writes a success envelope as one newline-terminated JSON line.
func EncodeScan(w io.Writer, scan ScanResult) error {
	return writeLine(w, envelope{Result: &scan})
}

// EncodeError writes an error envelope as one newline-terminated JSON line.
func EncodeError(w io.Writer, msg string) error {
	return writeLine(w, envelope{Error: &msg})
}

func writeLine(w io.Writer, env envelope) error {
	// json.Marshal emits compact output with no embedded newlines, which is
	// what keeps the line-oriented framing intact.
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode agent response: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}
