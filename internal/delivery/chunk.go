package delivery

import (
	"strings"
	"unicode/utf8"
)

// DiscordMessageLimit is the most characters Discord accepts in one message.
const DiscordMessageLimit = 2000

// Chunk splits text on line boundaries into pieces of at most limit
// characters. Lines are never split: a single line longer than limit becomes
// its own oversized chunk. Joining the chunks with "\n" gives back text.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	var current strings.Builder
	size := -1 // characters in current; -1 before the first line
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		switch {
		case size < 0:
			current.WriteString(line)
			size = n
		case size+1+n <= limit:
			current.WriteByte('\n')
			current.WriteString(line)
			size += 1 + n
		default:
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(line)
			size = n
		}
	}
	return append(chunks, current.String())
}
