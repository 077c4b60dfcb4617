package agent

import "errors"

// errMalformedToolCall marks a tool-call payload from the model that could
// not be decoded. It poisons the persisted history too, see Process.
var errMalformedToolCall = errors.New("malformed tool call")

func isMalformedToolCall(err error) bool {
	return errors.Is(err, errMalformedToolCall)
}
