package ingest

import (
	"bufio"
	"strings"
)

// DefaultMaxChunkChars bounds the size of a chunk before it is split on
// paragraph breaks.
const DefaultMaxChunkChars = 2000

// ChunkText splits a document into chunks on markdown headings. A section
// longer than maxChars is split further on blank-line paragraph breaks; a
// single oversized paragraph is kept whole. Each chunk of a section repeats
// the section heading so it reads on its own.
func ChunkText(content string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var chunks []string
	for _, s := range splitSections(content) {
		chunks = append(chunks, splitSection(s, maxChars)...)
	}
	return chunks
}

type section struct {
	heading string
	body    string
}

func splitSections(content string) []section {
	var sections []section

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var heading string
	var body strings.Builder

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text != "" || heading != "" {
			sections = append(sections, section{heading: heading, body: text})
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
			body.Reset()
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

func splitSection(s section, maxChars int) []string {
	prefix := ""
	if s.heading != "" {
		prefix = s.heading + "\n\n"
	}
	if s.body == "" {
		// a heading with nothing under it carries no content worth indexing
		return nil
	}
	if len(prefix)+len(s.body) <= maxChars {
		return []string{prefix + s.body}
	}

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs(s.body) {
		if current.Len() > 0 && len(prefix)+current.Len()+2+len(p) > maxChars {
			chunks = append(chunks, prefix+current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, prefix+current.String())
	}
	return chunks
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
