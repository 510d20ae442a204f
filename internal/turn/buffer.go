package turn

import "strings"

// utteranceBuffer accumulates finalized fragments of the user's turn.
type utteranceBuffer struct {
	fragments []string
	interim   string
}

func (b *utteranceBuffer) append(fragment string) {
	b.fragments = append(b.fragments, fragment)
	b.interim = ""
}

func (b *utteranceBuffer) len() int {
	return len(b.fragments)
}

func (b *utteranceBuffer) empty() bool {
	return len(b.fragments) == 0
}

// truncate drops fragments added after mark and returns how many were dropped
func (b *utteranceBuffer) truncate(mark int) int {
	if mark < 0 || mark >= len(b.fragments) {
		b.interim = ""
		return 0
	}
	dropped := len(b.fragments) - mark
	b.fragments = b.fragments[:mark]
	b.interim = ""
	return dropped
}

func (b *utteranceBuffer) text() string {
	return strings.Join(b.fragments, " ")
}

// live is the text so far including the interim hypothesis
func (b *utteranceBuffer) live() string {
	if b.interim == "" {
		return b.text()
	}
	if len(b.fragments) == 0 {
		return b.interim
	}
	return b.text() + " " + b.interim
}

// take returns the accumulated utterance and empties the buffer
func (b *utteranceBuffer) take() string {
	text := b.text()
	b.reset()
	return text
}

func (b *utteranceBuffer) reset() {
	b.fragments = nil
	b.interim = ""
}
