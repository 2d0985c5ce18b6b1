package telegram

import "strings"

// MessageLimit — максимальная длина сообщения Telegram в символах.
const MessageLimit = 4096

// SplitMessage делит текст на части не длиннее MessageLimit.
func SplitMessage(text string) []string {
	return SplitMessageLimit(text, MessageLimit)
}

// SplitMessageLimit делит текст по границам строк. Строка длиннее лимита режется по пробелу
// и никогда внутри HTML-тега, чтобы каждая часть оставалась корректной разметкой.
func SplitMessageLimit(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || limit <= 0 {
		return nil
	}
	if runeLen(trimmed) <= limit {
		return []string{trimmed}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.Trim(current.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.Split(trimmed, "\n") {
		n := runeLen(line)
		if n > limit {
			flush()
			pieces := cutLine(line, limit)
			parts = append(parts, pieces[:len(pieces)-1]...)
			last := pieces[len(pieces)-1]
			current.WriteString(last)
			size = runeLen(last)
			continue
		}
		if size > 0 && size+1+n > limit {
			flush()
		}
		if size > 0 {
			current.WriteByte('\n')
			size++
		}
		current.WriteString(line)
		size += n
	}
	flush()
	return parts
}

// cutLine режет одну длинную строку. Последний кусок всегда непустой.
func cutLine(line string, limit int) []string {
	runes := []rune(line)
	var pieces []string
	for len(runes) > limit {
		cut := safeCut(runes, limit)
		piece := strings.TrimRight(string(runes[:cut]), " ")
		if piece != "" {
			pieces = append(pieces, piece)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	return append(pieces, string(runes))
}

// safeCut ищет позицию разреза не дальше limit: перед открытым тегом, затем по последнему пробелу.
func safeCut(runes []rune, limit int) int {
	cut := limit
	if open := lastIndex(runes[:cut], '<'); open > 0 && open > lastIndex(runes[:cut], '>') {
		cut = open
	}
	if space := lastIndex(runes[:cut], ' '); space > 0 {
		cut = space
	}
	return cut
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func runeLen(s string) int {
	return len([]rune(s))
}
