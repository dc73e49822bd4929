package types

// redactedPlaceholder replaces secret material anywhere a SecretString is
// printed or serialized.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString wraps credentials (API keys, webhook secrets, connection
// strings) so they cannot leak through fmt verbs, structured logs, or JSON
// encoding. Both String and MarshalJSON emit a fixed placeholder; the raw
// value only escapes through an explicit Unmask call.
type SecretString string

// String satisfies fmt.Stringer with the placeholder, so %v and %s on a
// config struct never print the secret.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON emits the placeholder as a JSON string so config dumps and
// log payloads stay clean.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Call it only at the point of use, such as
// building an Authorization header or opening a database connection.
func (s SecretString) Unmask() string {
	return string(s)
}
