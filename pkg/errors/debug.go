package errors

// ErrorDump flattens an error chain for structured logging.
type ErrorDump struct {
	Code       Code
	TopMessage string
	Chain      []string
}

// Dump walks the error chain and collects every message for log output.
func Dump(err error) ErrorDump {
	dump := ErrorDump{Code: CodeInternal}
	if err == nil {
		return dump
	}
	dump.TopMessage = err.Error()
	if typed := As(err); typed != nil {
		dump.Code = typed.Code()
	}
	for current := err; current != nil; current = unwrapOne(current) {
		dump.Chain = append(dump.Chain, current.Error())
	}
	return dump
}

func unwrapOne(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
