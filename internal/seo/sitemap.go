// Package seo generates sitemaps and submits published URLs to search
// engines.
package seo

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/oneirolab/dreamgate/internal/cms"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlSet struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

type urlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// ContentURL maps a content row to its public URL under the site root.
func ContentURL(siteURL string, c cms.Content) string {
	base := strings.TrimRight(siteURL, "/")
	return fmt.Sprintf("%s/%s/%s", base, c.Type, c.Slug)
}

// BuildSitemap renders the published rows as sitemap XML. Entry order
// follows the input order.
func BuildSitemap(siteURL string, rows []cms.Content) ([]byte, error) {
	set := urlSet{Xmlns: sitemapNamespace}
	for _, c := range rows {
		entry := urlEntry{Loc: ContentURL(siteURL, c)}
		if c.PublishedAt != nil {
			entry.LastMod = c.PublishedAt.UTC().Format(time.DateOnly)
		}
		set.URLs = append(set.URLs, entry)
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
