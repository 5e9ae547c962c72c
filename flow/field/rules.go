package field

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rule bundles the pipeline pieces for one field kind.
type rule struct {
	pattern      *regexp.Regexp
	minLen       int
	maxLen       int
	cleaner      func(string) string
	checker      func(string) (code, msg string)
	normalizer   func(string) any
	defaultError string
}

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
	nonDigits     = regexp.MustCompile(`\D`)
	multiSpace    = regexp.MustCompile(`\s+`)
)

var rules = map[Kind]rule{
	KindText: {
		minLen:       1,
		cleaner:      collapseSpace,
		defaultError: "valor inválido",
	},
	KindName: {
		minLen:       2,
		maxLen:       100,
		cleaner:      collapseSpace,
		normalizer:   func(s string) any { return titleCase(foldAccents(s)) },
		defaultError: "por favor, informe um nome válido",
	},
	KindCity: {
		minLen:       2,
		maxLen:       100,
		cleaner:      collapseSpace,
		normalizer:   func(s string) any { return titleCase(foldAccents(s)) },
		defaultError: "por favor, informe uma cidade válida",
	},
	KindAddress: {
		minLen:       5,
		maxLen:       200,
		cleaner:      collapseSpace,
		defaultError: "por favor, informe um endereço válido",
	},
	KindEmail: {
		pattern:      emailPattern,
		maxLen:       254,
		cleaner:      func(s string) string { return strings.ToLower(strings.TrimSpace(s)) },
		defaultError: "por favor, informe um e-mail válido",
	},
	KindPhone: {
		cleaner:      stripNonDigits,
		checker:      checkPhone,
		normalizer:   func(s string) any { return normalizePhone(s) },
		defaultError: "por favor, informe um telefone válido com DDD",
	},
	KindTaxIDPerson: {
		pattern:      digitsPattern,
		cleaner:      stripNonDigits,
		checker:      checkCPF,
		defaultError: "por favor, informe um CPF válido",
	},
	KindTaxIDOrg: {
		pattern:      digitsPattern,
		cleaner:      stripNonDigits,
		checker:      checkCNPJ,
		defaultError: "por favor, informe um CNPJ válido",
	},
	KindPostalCode: {
		pattern:      digitsPattern,
		minLen:       8,
		maxLen:       8,
		cleaner:      stripNonDigits,
		defaultError: "por favor, informe um CEP válido (8 dígitos)",
	},
	KindDate: {
		cleaner:      collapseSpace,
		checker:      checkDate,
		normalizer:   func(s string) any { return normalizeDate(s) },
		defaultError: "por favor, informe uma data válida (DD/MM/AAAA)",
	},
	KindBirthDate: {
		cleaner:      collapseSpace,
		checker:      checkBirthDate,
		normalizer:   func(s string) any { return normalizeDate(s) },
		defaultError: "por favor, informe uma data de nascimento válida",
	},
	KindCurrency: {
		cleaner:      cleanCurrency,
		checker:      checkCurrency,
		normalizer:   func(s string) any { v, _ := parseCurrency(s); return v },
		defaultError: "por favor, informe um valor válido",
	},
	KindNumber: {
		cleaner:      collapseSpace,
		checker:      checkNumber,
		normalizer:   func(s string) any { v, _ := parseNumber(s); return v },
		defaultError: "por favor, informe um número válido",
	},
	KindSelect: {
		minLen:       1,
		cleaner:      collapseSpace,
		defaultError: "por favor, escolha uma das opções",
	},
}

func ruleFor(kind Kind) rule {
	if r, ok := rules[kind]; ok {
		return r
	}
	return rules[KindText]
}

func stripNonDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

func collapseSpace(s string) string {
	return multiSpace.ReplaceAllString(strings.TrimSpace(s), " ")
}

// accentFolder maps Portuguese diacritics onto plain ASCII so stored names
// compare stably regardless of how the lead typed them.
var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
	"Á", "A", "À", "A", "Â", "A", "Ã", "A", "Ä", "A",
	"É", "E", "È", "E", "Ê", "E", "Ë", "E",
	"Í", "I", "Ì", "I", "Î", "I", "Ï", "I",
	"Ó", "O", "Ò", "O", "Ô", "O", "Õ", "O", "Ö", "O",
	"Ú", "U", "Ù", "U", "Û", "U", "Ü", "U",
	"Ç", "C", "Ñ", "N",
)

func foldAccents(s string) string {
	return accentFolder.Replace(s)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// normalizePhone strips a leading Brazilian country code when present.
// Input is already digits-only.
func normalizePhone(digits string) string {
	if (len(digits) == 12 || len(digits) == 13) && strings.HasPrefix(digits, "55") {
		return digits[2:]
	}
	return digits
}

func checkPhone(digits string) (string, string) {
	n := len(normalizePhone(digits))
	if n != 10 && n != 11 {
		return ErrInvalidFormat, "por favor, informe um telefone válido com DDD"
	}
	return "", ""
}

// dateLayouts are accepted in order; the first that parses wins.
var dateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"2006/01/02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeDate(s string) string {
	if t, ok := parseDate(s); ok {
		return t.Format("02/01/2006")
	}
	return s
}

func checkDate(s string) (string, string) {
	t, ok := parseDate(s)
	if !ok {
		return ErrInvalidFormat, ""
	}
	if t.Year() < 1900 || t.Year() > 2100 {
		return ErrInvalidValue, "ano fora do intervalo permitido"
	}
	return "", ""
}

func checkBirthDate(s string) (string, string) {
	if code, msg := checkDate(s); code != "" {
		return code, msg
	}
	t, _ := parseDate(s)
	now := time.Now()
	if !t.Before(now.Truncate(24 * time.Hour)) {
		return ErrInvalidValue, "a data de nascimento deve estar no passado"
	}
	if now.Year()-t.Year() > 150 {
		return ErrInvalidValue, "data de nascimento improvável"
	}
	return "", ""
}

var currencySymbols = strings.NewReplacer("R$", "", "r$", "", "$", "", "€", "", "£", "", " ", "")

func cleanCurrency(s string) string {
	return currencySymbols.Replace(strings.TrimSpace(s))
}

// parseCurrency handles both Brazilian 1.234,56 and international 1,234.56
// digit grouping. The separator closest to the end of the string is taken
// as the decimal mark.
func parseCurrency(s string) (float64, bool) {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 == 3 && strings.Count(s, ",") == 1 {
			// Single comma followed by exactly three digits reads as a
			// thousands separator: 1,234 -> 1234.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		// Dots with exactly three trailing digits read as Brazilian
		// thousands markers: 800.000 -> 800000.
		if len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func checkCurrency(s string) (string, string) {
	v, ok := parseCurrency(s)
	if !ok {
		return ErrInvalidFormat, ""
	}
	if v < 0 {
		return ErrInvalidValue, "o valor não pode ser negativo"
	}
	return "", ""
}

func parseNumber(s string) (float64, bool) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func checkNumber(s string) (string, string) {
	if _, ok := parseNumber(s); !ok {
		return ErrInvalidFormat, fmt.Sprintf("%q não é um número", s)
	}
	return "", ""
}
