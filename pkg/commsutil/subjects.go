package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectDispatch  = "rpc.dispatch"
	SubjectViolation = "rpc.contract.violation"
)

// BuildViolationSubject builds the per-method violation subject under base.
// Dots in the method name become underscores so each method is one token.
func BuildViolationSubject(base, method string) string {
	return fmt.Sprintf("%s.%s", base, SubjectToken(method))
}

// SubjectToken makes s safe for use as a single COMMS subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}
