package urlimport

import (
	"net/url"
	"slices"
	"strings"
)

// SupportedSource is a site the server's downloader is known to handle.
type SupportedSource struct {
	Name   string
	Domain string
}

var supportedSources = []SupportedSource{
	{Name: "YouTube", Domain: "youtube.com"},
	{Name: "YouTube Music", Domain: "music.youtube.com"},
	{Name: "YouTube", Domain: "youtu.be"},
	{Name: "SoundCloud", Domain: "soundcloud.com"},
	{Name: "Bandcamp", Domain: "bandcamp.com"},
	{Name: "Vimeo", Domain: "vimeo.com"},
	{Name: "Dailymotion", Domain: "dailymotion.com"},
	{Name: "Twitch", Domain: "twitch.tv"},
	{Name: "TikTok", Domain: "tiktok.com"},
	{Name: "Twitter/X", Domain: "twitter.com"},
	{Name: "Twitter/X", Domain: "x.com"},
	{Name: "Facebook", Domain: "facebook.com"},
	{Name: "Instagram", Domain: "instagram.com"},
	{Name: "Reddit", Domain: "reddit.com"},
	{Name: "Mixcloud", Domain: "mixcloud.com"},
	{Name: "Audiomack", Domain: "audiomack.com"},
	{Name: "Deezer", Domain: "deezer.com"},
	{Name: "Spotify (podcast)", Domain: "spotify.com"},
}

// SupportedSources lists the known sites.
func SupportedSources() []SupportedSource {
	return slices.Clone(supportedSources)
}

// SourceFor returns the most specific supported source matching rawURL's host.
func SourceFor(rawURL string) (SupportedSource, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return SupportedSource{}, false
	}
	host := strings.ToLower(parsed.Hostname())
	var best SupportedSource
	for _, src := range supportedSources {
		if host != src.Domain && !strings.HasSuffix(host, "."+src.Domain) {
			continue
		}
		if len(src.Domain) > len(best.Domain) {
			best = src
		}
	}
	return best, best.Domain != ""
}

// QualityOptions are the download qualities accepted by the server.
var QualityOptions = []string{"best", "320", "256", "192", "128", "worst"}

// ValidQuality reports whether q is one of QualityOptions.
func ValidQuality(q string) bool {
	return slices.Contains(QualityOptions, q)
}
