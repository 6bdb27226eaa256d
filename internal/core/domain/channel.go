package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// defaultChannelHost serves named channels that are not full URLs.
const defaultChannelHost = "https://conda.anaconda.org"

// Channel identifies one package provenance: a named remote channel pinned
// to a platform subdirectory.
type Channel struct {
	// Name is the short channel name ("conda-forge") or, for full URLs,
	// the last path element.
	Name string

	// BaseURL is the channel root without the platform subdirectory.
	BaseURL string

	// Platform is the subdirectory tag ("linux-64", "noarch").
	Platform string
}

// ParseChannel resolves a configured channel entry. An entry is either a
// bare name, expanded against the default channel host, or a full URL.
func ParseChannel(entry, platform string) (Channel, error) {
	entry = strings.TrimRight(strings.TrimSpace(entry), "/")
	if entry == "" {
		return Channel{}, zerr.With(zerr.Wrap(ErrConfig, ""), "reason", "empty channel entry")
	}

	c := Channel{Platform: platform}
	if strings.Contains(entry, "://") {
		c.BaseURL = entry
		if i := strings.LastIndexByte(entry, '/'); i >= 0 {
			c.Name = entry[i+1:]
		} else {
			c.Name = entry
		}
	} else {
		c.Name = entry
		c.BaseURL = defaultChannelHost + "/" + entry
	}
	return c, nil
}

// ID names the channel+platform pair, e.g. "conda-forge/linux-64".
func (c Channel) ID() string {
	return c.Name + "/" + c.Platform
}

// PlatformURL is the channel subdirectory holding packages and repodata.
func (c Channel) PlatformURL() string {
	return c.BaseURL + "/" + c.Platform
}

// RepodataURL is the URL of the subdirectory metadata document.
func (c Channel) RepodataURL() string {
	return c.PlatformURL() + "/repodata.json"
}
