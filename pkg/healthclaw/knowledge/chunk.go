package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// ChunkConfig controls how documents are split before embedding.
type ChunkConfig struct {
	// MaxChars is the upper bound of a chunk (default: 1200).
	MaxChars int `yaml:"max_chars"`

	// Overlap is carried from the end of one chunk into the next (default: 150).
	Overlap int `yaml:"overlap"`
}

func (c ChunkConfig) effective() ChunkConfig {
	if c.MaxChars <= 0 {
		c.MaxChars = 1200
	}
	if c.Overlap == 0 {
		c.Overlap = 150
	}
	// Negative disables overlap.
	if c.Overlap < 0 || c.Overlap >= c.MaxChars/2 {
		c.Overlap = 0
	}
	return c
}

// Chunk is one indexed piece of a document.
type Chunk struct {
	Source string
	Index  int
	Text   string
	Hash   string
}

// SplitText breaks text into paragraph-aligned chunks of roughly
// cfg.MaxChars runes. Paragraphs longer than the limit are hard-split, and
// each chunk after the first starts with the last cfg.Overlap runes of the
// previous one.
func SplitText(source, text string, cfg ChunkConfig) []Chunk {
	cfg = cfg.effective()

	var paras []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		for utf8.RuneCountInString(para) > cfg.MaxChars {
			var head string
			head, para = splitRunes(para, cfg.MaxChars)
			paras = append(paras, head)
		}
		if para != "" {
			paras = append(paras, para)
		}
	}

	var (
		chunks []Chunk
		cur    []string
		curLen int
		fresh  bool
	)
	emit := func() {
		t := strings.Join(cur, "\n\n")
		chunks = append(chunks, Chunk{Source: source, Index: len(chunks), Text: t, Hash: hashText(t)})
		cur, curLen, fresh = nil, 0, false
		if cfg.Overlap > 0 {
			tail := tailRunes(t, cfg.Overlap)
			cur = []string{tail}
			curLen = utf8.RuneCountInString(tail)
		}
	}

	for _, p := range paras {
		n := utf8.RuneCountInString(p)
		if fresh && curLen+n+2 > cfg.MaxChars {
			emit()
		}
		cur = append(cur, p)
		curLen += n + 2
		fresh = true
	}
	if fresh {
		emit()
	}
	return chunks
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

func tailRunes(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	_, tail := splitRunes(s, count-n)
	return tail
}

// hashText computes the SHA-256 hex hash of a text.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
