package llm

import "strings"

// thinkTagFilter separates model deliberation wrapped in <thinking> or
// <think> tags from displayable content. Tags may be split across stream
// chunks, so content that could be the start of a tag is held back until it
// either completes a tag or is proven to be ordinary text.
type thinkTagFilter struct {
	buf      string
	inTag    bool
	closeTag string
}

var thinkOpenTags = []string{"<thinking>", "<think>"}

func newThinkTagFilter() *thinkTagFilter {
	return &thinkTagFilter{}
}

// Add consumes a chunk and returns the content and reasoning text that are
// safe to emit so far.
func (f *thinkTagFilter) Add(chunk string) (content, reasoning string) {
	f.buf += chunk
	var out, thought strings.Builder

	for f.buf != "" {
		if f.inTag {
			if idx := strings.Index(f.buf, f.closeTag); idx >= 0 {
				thought.WriteString(f.buf[:idx])
				f.buf = f.buf[idx+len(f.closeTag):]
				f.inTag = false
				f.closeTag = ""
				continue
			}
			// Hold back a suffix that could be the start of the close tag.
			hold := tagPrefixLen(f.buf, f.closeTag)
			thought.WriteString(f.buf[:len(f.buf)-hold])
			f.buf = f.buf[len(f.buf)-hold:]
			break
		}

		lt := strings.IndexByte(f.buf, '<')
		if lt < 0 {
			out.WriteString(f.buf)
			f.buf = ""
			break
		}
		out.WriteString(f.buf[:lt])
		f.buf = f.buf[lt:]

		opened := false
		partial := false
		for _, tag := range thinkOpenTags {
			if strings.HasPrefix(f.buf, tag) {
				f.buf = f.buf[len(tag):]
				f.inTag = true
				f.closeTag = "</" + tag[1:]
				opened = true
				break
			}
			if strings.HasPrefix(tag, f.buf) {
				partial = true
			}
		}
		if opened {
			continue
		}
		if partial {
			// Might still become an open tag once more bytes arrive.
			break
		}
		out.WriteString("<")
		f.buf = f.buf[1:]
	}

	return out.String(), thought.String()
}

// Flush returns whatever is still buffered at stream end. A held-back
// partial open tag that never completed is ordinary content; buffered text
// inside an unterminated tag is reasoning.
func (f *thinkTagFilter) Flush() (content, reasoning string) {
	buf := f.buf
	f.buf = ""
	if f.inTag {
		return "", buf
	}
	return buf, ""
}

// Unterminated reports whether the stream ended inside an open tag.
func (f *thinkTagFilter) Unterminated() bool {
	return f.inTag
}

// tagPrefixLen returns the length of the longest suffix of s that is a
// proper prefix of tag.
func tagPrefixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
