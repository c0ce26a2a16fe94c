package sheets

// ColumnLetter converts a 1-based column index to its A1-notation letters:
// 1 -> "A", 26 -> "Z", 27 -> "AA". Indexes below 1 yield "".
func ColumnLetter(index int) string {
	if index < 1 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for index > 0 {
		index--
		i--
		buf[i] = byte('A' + index%26)
		index /= 26
	}
	return string(buf[i:])
}

// ColumnIndex is the inverse of ColumnLetter. Invalid input yields 0.
func ColumnIndex(letters string) int {
	if letters == "" {
		return 0
	}
	index := 0
	for i := 0; i < len(letters); i++ {
		ch := letters[i]
		if ch < 'A' || ch > 'Z' {
			return 0
		}
		index = index*26 + int(ch-'A'+1)
	}
	return index
}
