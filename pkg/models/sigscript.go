package models

// SigScript is the tagged union backing the wire signature format: a
// legacy (sig, pub) pair or a segwit (sig, pub, scriptCode) triple.
// Modeled as a sum type rather than a variable-length slice so callers
// cannot construct the invalid shapes the wire format rules out
// (0, 1, or >3 items).
type SigScript struct {
	Sig []byte
	Pub []byte
	ScriptCode []byte // nil => Legacy; non-nil => Segwit
}

// IsSegwit reports whether this is the 3-item (sig, pub, scriptCode) form.
func (s SigScript) IsSegwit() bool {
	return s.ScriptCode != nil
}
