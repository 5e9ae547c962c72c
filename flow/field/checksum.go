package field

// CPF and CNPJ check digits follow the Receita Federal modulo-11 scheme:
// a weighted sum of the leading digits, where a remainder below 2 yields
// check digit 0 and anything else yields 11 minus the remainder.

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func checkDigit(digits []int, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

func toDigits(s string) []int {
	out := make([]int, len(s))
	for i, c := range s {
		out[i] = int(c - '0')
	}
	return out
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func checkCPF(s string) (string, string) {
	if len(s) != 11 {
		return ErrInvalidFormat, ""
	}
	if allSame(s) {
		return ErrInvalidValue, "CPF com dígitos repetidos"
	}

	d := toDigits(s)

	w1 := make([]int, 9)
	for i := range w1 {
		w1[i] = 10 - i
	}
	if checkDigit(d, w1) != d[9] {
		return ErrInvalidChecksum, ""
	}

	w2 := make([]int, 10)
	for i := range w2 {
		w2[i] = 11 - i
	}
	if checkDigit(d, w2) != d[10] {
		return ErrInvalidChecksum, ""
	}

	return "", ""
}

func checkCNPJ(s string) (string, string) {
	if len(s) != 14 {
		return ErrInvalidFormat, ""
	}
	if allSame(s) {
		return ErrInvalidValue, "CNPJ com dígitos repetidos"
	}

	d := toDigits(s)

	if checkDigit(d, cnpjWeights1) != d[12] {
		return ErrInvalidChecksum, ""
	}
	if checkDigit(d, cnpjWeights2) != d[13] {
		return ErrInvalidChecksum, ""
	}

	return "", ""
}
