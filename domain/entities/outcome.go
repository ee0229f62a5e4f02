package entities

// CallOutcome is the inner half of a nested call result.
// Dispatch happened; either Value holds the result or Raised is set and
// Exception names the object the collected runtime threw.
type CallOutcome struct {
	Value     Handle
	Exception Handle
	Raised    bool
}

// Returned builds the outcome of a call that produced a value.
func Returned(v Handle) CallOutcome {
	return CallOutcome{Value: v}
}

// Threw builds the outcome of a call that raised.
func Threw(exc Handle) CallOutcome {
	return CallOutcome{Exception: exc, Raised: true}
}

// Handle returns whichever handle the outcome carries.
func (o CallOutcome) Handle() Handle {
	if o.Raised {
		return o.Exception
	}
	return o.Value
}
