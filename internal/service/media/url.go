package media

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var mediaHosts = []string{"giphy.com", "tenor.com"}

// IsMediaURL reports whether content is a single GIF embed link.
func IsMediaURL(content string) bool {
	u, ok := parseEmbed(content)
	if !ok {
		return false
	}
	return hostMatches(u.Hostname()) || strings.EqualFold(path.Ext(u.Path), ".gif")
}

func parseEmbed(content string) (*url.URL, bool) {
	raw := strings.TrimSpace(content)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, false
	}
	return u, true
}

func hostMatches(host string) bool {
	host = strings.ToLower(host)
	for _, h := range mediaHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

var giphyIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// giphyID extracts the gif id from the URL shapes Giphy hands out:
// media*.giphy.com/media/{id}/giphy.gif, i.giphy.com/{id}.gif and
// giphy.com/gifs/{slug}-{id}.
func giphyID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	if host != "giphy.com" && !strings.HasSuffix(host, ".giphy.com") {
		return "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	var candidate string
	switch {
	case len(parts) >= 2 && parts[0] == "media":
		candidate = parts[1]
		// media/v1.{hash}/{id}/giphy.gif
		if strings.HasPrefix(candidate, "v1.") && len(parts) >= 3 {
			candidate = parts[2]
		}
	case len(parts) >= 2 && (parts[0] == "gifs" || parts[0] == "stickers"):
		slug := parts[1]
		candidate = slug[strings.LastIndex(slug, "-")+1:]
	case len(parts) == 1:
		candidate = strings.TrimSuffix(parts[0], path.Ext(parts[0]))
	}

	if candidate == "" || !giphyIDPattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

// slugWords turns a page slug like "happy-dance-gif-123" into "happy dance".
func slugWords(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	kept := words[:0]
	for _, w := range words {
		lw := strings.ToLower(w)
		if lw == "gif" || lw == "giphy" || strings.IndexFunc(w, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			continue
		}
		kept = append(kept, lw)
	}
	return strings.Join(kept, " ")
}
