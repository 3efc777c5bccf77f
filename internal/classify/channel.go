package classify

import (
	"net/url"
	"strings"

	"github.com/sells-group/brand-radar/internal/model"
)

// ChannelFor extracts channel metadata from YouTube, Vimeo and TikTok URLs.
// Other hosts return nil.
func ChannelFor(raw string) *model.ChannelMetadata {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	parts := splitPath(u.Path)

	switch host {
	case "youtube.com", "music.youtube.com":
		return youtube(u, parts)
	case "youtu.be":
		if len(parts) > 0 {
			return &model.ChannelMetadata{Platform: "youtube", VideoID: parts[0]}
		}
	case "vimeo.com":
		return vimeo(parts)
	case "tiktok.com":
		return tiktok(parts)
	}
	return nil
}

func youtube(u *url.URL, parts []string) *model.ChannelMetadata {
	md := &model.ChannelMetadata{Platform: "youtube"}
	if v := u.Query().Get("v"); v != "" {
		md.VideoID = v
	}
	if len(parts) == 0 {
		if md.VideoID == "" {
			return nil
		}
		return md
	}
	switch {
	case strings.HasPrefix(parts[0], "@"):
		md.Handle = parts[0]
	case parts[0] == "channel" && len(parts) > 1:
		md.ChannelID = parts[1]
	case (parts[0] == "c" || parts[0] == "user") && len(parts) > 1:
		md.Handle = parts[1]
	case (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live") && len(parts) > 1:
		md.VideoID = parts[1]
	}
	if md.VideoID == "" && md.Handle == "" && md.ChannelID == "" {
		return nil
	}
	return md
}

func vimeo(parts []string) *model.ChannelMetadata {
	if len(parts) == 0 {
		return nil
	}
	md := &model.ChannelMetadata{Platform: "vimeo"}
	switch {
	case parts[0] == "channels" && len(parts) > 1:
		md.ChannelID = parts[1]
		if len(parts) > 2 && isDigits(parts[2]) {
			md.VideoID = parts[2]
		}
	case isDigits(parts[0]):
		md.VideoID = parts[0]
	default:
		md.Handle = parts[0]
	}
	return md
}

func tiktok(parts []string) *model.ChannelMetadata {
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "@") {
		return nil
	}
	md := &model.ChannelMetadata{Platform: "tiktok", Handle: parts[0]}
	if len(parts) > 2 && parts[1] == "video" {
		md.VideoID = parts[2]
	}
	return md
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
