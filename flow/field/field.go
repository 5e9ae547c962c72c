// Package field implements the per-kind field validation pipeline used by
// input nodes: parse, clean, check, and normalize user-supplied values.
//
// Each field kind runs the same ordered pipeline:
//  1. Empty handling (required vs optional)
//  2. Clean (trim, lowercase, digit strip)
//  3. Length bounds
//  4. Pattern match
//  5. Semantic check (checksums, calendar rules)
//  6. Normalize to the canonical stored form
//
// Validators carry no mutable state; the package-level Validate and
// ValidateMany functions are safe for concurrent use.
package field

import "strings"

// Kind identifies a field validator. The set is closed; unknown kinds
// fall back to KindText.
type Kind string

const (
	KindText        Kind = "text"
	KindName        Kind = "name"
	KindEmail       Kind = "email"
	KindPhone       Kind = "phone"
	KindTaxIDPerson Kind = "taxid_person"
	KindTaxIDOrg    Kind = "taxid_org"
	KindPostalCode  Kind = "postal_code"
	KindDate        Kind = "date"
	KindBirthDate   Kind = "birth_date"
	KindCurrency    Kind = "currency"
	KindCity        Kind = "city"
	KindAddress     Kind = "address"
	KindNumber      Kind = "number"
	KindSelect      Kind = "select"
)

// Validation error codes. These are part of the product contract and are
// surfaced verbatim in analytics events and step results.
const (
	ErrRequired        = "REQUIRED"
	ErrTooShort        = "TOO_SHORT"
	ErrTooLong         = "TOO_LONG"
	ErrInvalidFormat   = "INVALID_FORMAT"
	ErrInvalidChecksum = "INVALID_CHECKSUM"
	ErrInvalidValue    = "INVALID_VALUE"
)

// Result is the structured outcome of running the pipeline over one value.
//
// When IsValid is true, Cleaned holds the canonical stored form: a string
// for most kinds, a float64 for currency and number kinds, or nil when an
// optional field was left empty.
type Result struct {
	IsValid      bool
	Cleaned      any
	ErrorCode    string
	ErrorMessage string
	Original     string
}

// Requirement describes how a single field should be validated by
// ValidateMany.
type Requirement struct {
	Kind     Kind
	Required bool
}

// Validate runs the full pipeline for the given kind over a raw value.
//
// Empty input succeeds with a nil Cleaned value unless required is set,
// in which case it fails with ErrRequired.
func Validate(kind Kind, raw string, required bool) Result {
	res := Result{Original: raw}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			res.ErrorCode = ErrRequired
			res.ErrorMessage = "este campo é obrigatório"
			return res
		}
		res.IsValid = true
		return res
	}

	rule := ruleFor(kind)

	cleaned := trimmed
	if rule.cleaner != nil {
		cleaned = rule.cleaner(cleaned)
	}

	if rule.minLen > 0 && len(cleaned) < rule.minLen {
		res.ErrorCode = ErrTooShort
		res.ErrorMessage = rule.defaultError
		return res
	}
	if rule.maxLen > 0 && len(cleaned) > rule.maxLen {
		res.ErrorCode = ErrTooLong
		res.ErrorMessage = rule.defaultError
		return res
	}

	if rule.pattern != nil && !rule.pattern.MatchString(cleaned) {
		res.ErrorCode = ErrInvalidFormat
		res.ErrorMessage = rule.defaultError
		return res
	}

	if rule.checker != nil {
		if code, msg := rule.checker(cleaned); code != "" {
			res.ErrorCode = code
			if msg == "" {
				msg = rule.defaultError
			}
			res.ErrorMessage = msg
			return res
		}
	}

	res.IsValid = true
	if rule.normalizer != nil {
		res.Cleaned = rule.normalizer(cleaned)
	} else {
		res.Cleaned = cleaned
	}
	return res
}

// ValidateMany runs the pipeline over a map of raw values. It returns the
// map of cleaned values for every valid field and the map of failed
// results keyed by field name. Fields absent from reqs are validated as
// optional text.
func ValidateMany(raw map[string]string, reqs map[string]Requirement) (map[string]any, map[string]Result) {
	clean := make(map[string]any, len(raw))
	errs := make(map[string]Result)

	for name, value := range raw {
		req, ok := reqs[name]
		if !ok {
			req = Requirement{Kind: KindText}
		}
		res := Validate(req.Kind, value, req.Required)
		if !res.IsValid {
			errs[name] = res
			continue
		}
		if res.Cleaned != nil {
			clean[name] = res.Cleaned
		}
	}

	// Required fields that never appeared in the input still fail.
	for name, req := range reqs {
		if _, seen := raw[name]; seen || !req.Required {
			continue
		}
		errs[name] = Result{
			ErrorCode:    ErrRequired,
			ErrorMessage: "este campo é obrigatório",
		}
	}

	return clean, errs
}
