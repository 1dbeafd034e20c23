package transcription

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/MrWong99/cadenza/pkg/stream"
)

// Transform rewrites a text stream. Transforms run between the LLM output
// and the TTS input; they must never split mid-token, which the Buffered
// helper guarantees by holding text to a sentence boundary.
type Transform func(stream.Reader[string]) stream.Reader[string]

// Chain composes transforms left to right into one.
func Chain(transforms ...Transform) Transform {
	return func(src stream.Reader[string]) stream.Reader[string] {
		for _, t := range transforms {
			src = t(src)
		}
		return src
	}
}

// Buffered lifts a whole-string rewrite into a streaming Transform. Input
// fragments accumulate until a sentence boundary (or end of stream), then
// the complete piece is rewritten and emitted, so apply never sees a
// token cut in half.
func Buffered(apply func(string) string) Transform {
	return func(src stream.Reader[string]) stream.Reader[string] {
		var buf strings.Builder
		eof := false
		return stream.ReaderFunc[string](func(ctx context.Context) (string, error) {
			for {
				if eof {
					return "", io.EOF
				}
				chunk, err := src.Read(ctx)
				if err == io.EOF {
					eof = true
					if buf.Len() == 0 {
						return "", io.EOF
					}
					out := apply(buf.String())
					buf.Reset()
					if out == "" {
						return "", io.EOF
					}
					return out, nil
				}
				if err != nil {
					return "", err
				}
				buf.WriteString(chunk)
				if i := lastSentenceBoundary(buf.String()); i >= 0 {
					complete := buf.String()[:i]
					rest := buf.String()[i:]
					buf.Reset()
					buf.WriteString(rest)
					if out := apply(complete); out != "" {
						return out, nil
					}
				}
			}
		})
	}
}

// BufferedRegex is the common case of Buffered: apply one pattern
// replacement per complete sentence.
func BufferedRegex(re *regexp.Regexp, repl func(match string) string) Transform {
	return Buffered(func(s string) string {
		return re.ReplaceAllStringFunc(s, repl)
	})
}

// lastSentenceBoundary returns the index just past the last sentence
// terminator plus its trailing whitespace, or -1.
func lastSentenceBoundary(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		switch s[i] {
		case ' ', '\t', '\n':
			switch s[i-1] {
			case '.', '!', '?', '\n':
				return i + 1
			}
		}
	}
	return -1
}

// ─── language-agnostic transforms ───

var (
	mdLink    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdBold    = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	mdItalic  = regexp.MustCompile(`\*([^*]+)\*|\b_([^_]+)_\b`)
	mdCode    = regexp.MustCompile("`([^`]*)`")
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	mdBullet  = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
)

// StripMarkdown removes markdown syntax while keeping the visible text.
func StripMarkdown() Transform {
	return Buffered(func(s string) string {
		s = mdLink.ReplaceAllString(s, "$1")
		s = mdBold.ReplaceAllString(s, "$1$2")
		s = mdItalic.ReplaceAllString(s, "$1$2")
		s = mdCode.ReplaceAllString(s, "$1")
		s = mdHeading.ReplaceAllString(s, "")
		s = mdBullet.ReplaceAllString(s, "")
		return s
	})
}

var emojiRE = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2B00}-\x{2BFF}\x{FE0F}\x{200D}]`)

// StripEmoji removes emoji and related joiner characters.
func StripEmoji() Transform {
	return Buffered(func(s string) string {
		return emojiRE.ReplaceAllString(s, "")
	})
}

var (
	crlfRE       = regexp.MustCompile(`\r\n?`)
	multiBlankRE = regexp.MustCompile(`\n{3,}`)
)

// NormalizeNewlines folds carriage returns and runs of blank lines.
func NormalizeNewlines() Transform {
	return Buffered(func(s string) string {
		s = crlfRE.ReplaceAllString(s, "\n")
		return multiBlankRE.ReplaceAllString(s, "\n\n")
	})
}

var (
	angleRE   = regexp.MustCompile(`<[^<>]*>`)
	tagNameRE = regexp.MustCompile(`^</?([a-zA-Z][a-zA-Z0-9-]*)`)

	// ssmlTags is the SSML 1.1 element set.
	ssmlTags = map[string]bool{
		"audio": true, "break": true, "desc": true, "emphasis": true,
		"lang": true, "lexicon": true, "mark": true, "p": true,
		"phoneme": true, "prosody": true, "s": true, "say-as": true,
		"speak": true, "sub": true, "voice": true,
	}
)

// RemoveAngleBrackets drops stray angle brackets but preserves SSML tags so
// markup destined for the synthesizer survives.
func RemoveAngleBrackets() Transform {
	return BufferedRegex(angleRE, func(m string) string {
		if sub := tagNameRE.FindStringSubmatch(m); sub != nil && ssmlTags[strings.ToLower(sub[1])] {
			return m
		}
		return strings.Trim(m, "<>")
	})
}

var emailRE = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+`)

// VerbalizeEmail rewrites addresses so "a.b@c.com" reads "a dot b at c dot
// com".
func VerbalizeEmail() Transform {
	return BufferedRegex(emailRE, func(m string) string {
		m = strings.ReplaceAll(m, "@", " at ")
		return strings.ReplaceAll(m, ".", " dot ")
	})
}

var phoneRE = regexp.MustCompile(`\+?\d[\d ()./-]{6,}\d`)

// VerbalizePhone spaces out phone-number digits so they are read one by
// one instead of as a large cardinal.
func VerbalizePhone() Transform {
	return BufferedRegex(phoneRE, func(m string) string {
		var b strings.Builder
		for _, r := range m {
			switch {
			case r >= '0' && r <= '9':
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteRune(r)
			case r == '+':
				b.WriteString("plus")
			}
		}
		return b.String()
	})
}

var clockRE = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

// VerbalizeTime rewrites clock times so "14:05" reads "14 05" instead of a
// ratio.
func VerbalizeTime() Transform {
	return BufferedRegex(clockRE, func(m string) string {
		return strings.ReplaceAll(m, ":", " ")
	})
}
