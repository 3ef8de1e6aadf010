package calls

import (
	"errors"
	"strings"

	"voice-console/internal/telephony"
)

// Codes the voice SDK uses when the far end simply did not take the call:
// busy, declined, unavailable and request-terminated, in both the SDK's
// 31xxx range and bare SIP form.
var benignCodes = map[int]struct{}{
	31480: {}, 31486: {}, 31487: {}, 31603: {},
	480: {}, 486: {}, 487: {}, 603: {},
}

var benignPhrases = []string{"hangup", "hung up", "call ended", "declined", "busy"}

// IsBenign reports whether an SDK error only means the call ended.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	var de *telephony.DeviceError
	if errors.As(err, &de) {
		return benignPayload(de.Code, de.Message)
	}
	return benignPayload(0, err.Error())
}

func benignPayload(code int, msg string) bool {
	if _, ok := benignCodes[code]; ok {
		return true
	}
	msg = strings.ToLower(msg)
	for _, p := range benignPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func sessionError(kind ErrorKind, err error) *SessionError {
	se := &SessionError{Kind: kind, Message: err.Error(), cause: err}
	var de *telephony.DeviceError
	if errors.As(err, &de) {
		se.Code = de.Code
		se.Message = de.Message
	}
	return se
}
