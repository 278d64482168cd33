package registry

import "comicwatch/fetch"

// URLs holds the base URL of every catalog source.
type URLs struct {
	Twokinds             string `koanf:"twokinds_url"`
	AvasDemon            string `koanf:"avasdemon_url"`
	XKCD                 string `koanf:"xkcd_url"`
	MyLifeWithFel        string `koanf:"mylifewithfel_url"`
	KillSixBillionDemons string `koanf:"killsixbilliondemons_url"`
	DiscordStatus        string `koanf:"discordstatus_url"`
}

// DefaultURLs returns the production locations of the catalog sources.
func DefaultURLs() URLs {
	return URLs{
		Twokinds:             "https://twokinds.keenspot.com",
		AvasDemon:            "http://www.avasdemon.com",
		XKCD:                 "https://xkcd.com",
		MyLifeWithFel:        "http://mylifewithfel.smackjeeves.com/rss/",
		KillSixBillionDemons: "https://killsixbilliondemons.com/feed/",
		DiscordStatus:        "https://discordstatus.com",
	}
}

// Catalog builds the default registry.
func Catalog(client *fetch.Client, urls URLs) (*Registry, error) {
	return New(
		Source{ID: "twokinds", DisplayName: "Two Kinds", Adapter: fetch.NewTwokinds(client, urls.Twokinds)},
		Source{ID: "avasdemon", DisplayName: "Ava's Demon", Adapter: fetch.NewAvasDemon(client, urls.AvasDemon)},
		Source{ID: "xkcd", DisplayName: "XKCD", Adapter: fetch.NewXKCD(client, urls.XKCD)},
		Source{ID: "mylifewithfel", DisplayName: "My Life With Fel", Adapter: fetch.NewFeed(client, urls.MyLifeWithFel)},
		Source{ID: "killsixbilliondemons", DisplayName: "Kill Six Billion Demons", Adapter: fetch.NewFeed(client, urls.KillSixBillionDemons)},
		Source{ID: "discordstatus", DisplayName: "Discord Status", Adapter: fetch.NewStatusPage(client, urls.DiscordStatus)},
	)
}
