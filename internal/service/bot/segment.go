package bot

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/tavern-chat/backend/internal/service/ai"
)

var (
	gifDirective = regexp.MustCompile(`(?i)\[gif[:\s]\s*([^\]]*)\]`)
	spaceRun     = regexp.MustCompile(`[ \t]{2,}`)
)

// Segment is one chat bubble of a bot reply.
type Segment struct {
	Text    string
	GIFTerm string
}

// ParseResponse turns raw model output into ordered segments: the echoed
// name prefix is stripped, the text is split on the delimiter and every
// bubble has its GIF directive extracted. Empty bubbles are dropped.
func ParseResponse(raw, botName string) []Segment {
	parts := SplitSegments(StripNamePrefix(raw, botName))
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		seg := parseSegment(StripNamePrefix(part, botName))
		if seg.Text == "" && seg.GIFTerm == "" {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// SplitSegments splits on the multi-message delimiter, trimming and
// discarding empty pieces.
func SplitSegments(raw string) []string {
	pieces := strings.Split(raw, ai.MessageDelimiter)
	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// StripNamePrefix removes a leading "Name:" the model sometimes echoes from
// the labelled history.
func StripNamePrefix(text, name string) string {
	text = strings.TrimSpace(text)
	name = strings.TrimSpace(name)
	if name == "" {
		return text
	}

	for _, candidate := range []string{name, "**" + name + "**", "[" + name + "]"} {
		if len(text) < len(candidate) || !strings.EqualFold(text[:len(candidate)], candidate) {
			continue
		}
		rest := strings.TrimLeft(text[len(candidate):], " ")
		for _, colon := range []string{":", "："} {
			if strings.HasPrefix(rest, colon) {
				return strings.TrimSpace(rest[len(colon):])
			}
		}
	}
	return text
}

func parseSegment(text string) Segment {
	var seg Segment
	if m := gifDirective.FindStringSubmatch(text); m != nil {
		seg.GIFTerm = strings.TrimSpace(m[1])
	}
	text = gifDirective.ReplaceAllString(text, "")
	text = spaceRun.ReplaceAllString(text, " ")
	seg.Text = strings.TrimSpace(text)
	return seg
}
