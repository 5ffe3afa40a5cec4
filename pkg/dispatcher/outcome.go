package dispatcher

// Outcome is what a handler returns: either a success value or a domain
// failure. Build one with Ok, OkWithCookies or Failed.
type Outcome struct {
	failed  bool
	value   interface{}
	cookies map[string]interface{}
	code    int
	err     *ErrorBody
}

// Ok wraps a success value. It is validated against the response schema.
func Ok(v interface{}) Outcome {
	return Outcome{value: v}
}

// OkWithCookies wraps a success value and cookies to hand back to the client.
func OkWithCookies(v interface{}, cookies map[string]interface{}) Outcome {
	return Outcome{value: v, cookies: cookies}
}

// Failed reports a domain failure. Code and err reach the client verbatim and
// skip response validation.
func Failed(code int, err *ErrorBody) Outcome {
	if err == nil {
		err = &ErrorBody{Code: code}
	}
	return Outcome{failed: true, code: code, err: err}
}

// IsFailed reports whether the outcome was built with Failed.
func (o Outcome) IsFailed() bool { return o.failed }

// Value returns the success value (nil for failures).
func (o Outcome) Value() interface{} { return o.value }
