package extractor

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	LinkTypeWebsite = "website"
	LinkTypeArticle = "article"
	LinkTypeVideo   = "video"
	LinkTypeImage   = "image"
	LinkTypeProduct = "product"
	LinkTypeOther   = "other"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 500
	maxSiteNameLen    = 100
	maxAuthorLen      = 100
	minImageSide      = 100
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

// metaTags хранит первое значение каждого meta-ключа и все og:image
type metaTags struct {
	values   map[string]string
	ogImages []string
	twImages []string
}

func (m *metaTags) get(keys ...string) string {
	for _, k := range keys {
		if v := m.values[k]; v != "" {
			return v
		}
	}
	return ""
}

func collectMeta(doc *goquery.Document) *metaTags {
	m := &metaTags{values: make(map[string]string)}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		key := strings.ToLower(strings.TrimSpace(s.AttrOr("property", "")))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		}
		if key == "" {
			return
		}

		switch key {
		case "og:image", "og:image:url", "og:image:secure_url":
			m.ogImages = append(m.ogImages, content)
		case "twitter:image", "twitter:image:src":
			m.twImages = append(m.twImages, content)
		}

		if _, ok := m.values[key]; !ok {
			m.values[key] = content
		}
	})

	return m
}

func parseDocument(doc *goquery.Document, base *url.URL, opts Options) *Metadata {
	meta := collectMeta(doc)

	md := &Metadata{
		FinalURL: base.String(),
		Extra:    make(map[string]string),
	}

	md.Title = truncate(collapse(firstNonEmpty(
		meta.get("og:title"),
		meta.get("twitter:title"),
		doc.Find("title").First().Text(),
	)), maxTitleLen)

	md.Description = truncate(collapse(firstNonEmpty(
		meta.get("og:description"),
		meta.get("twitter:description"),
		meta.get("description"),
	)), maxDescriptionLen)

	md.SiteName = truncate(collapse(firstNonEmpty(
		meta.get("og:site_name"),
		meta.get("twitter:site"),
		siteDomain(base),
	)), maxSiteNameLen)

	md.Author = truncate(collapse(firstNonEmpty(
		meta.get("og:author", "article:author"),
		meta.get("twitter:creator"),
		meta.get("author"),
	)), maxAuthorLen)

	md.PublishedAt = meta.get("og:published_time", "article:published_time")

	if opts.ExtractVideos {
		md.VideoURL = resolve(base, meta.get("og:video:secure_url", "og:video:url", "og:video", "twitter:player:stream", "twitter:player"))
		if t := meta.get("og:video:type"); t != "" {
			md.Extra["video_type"] = t
		}
		if d := meta.get("video:duration"); d != "" {
			md.Extra["video_duration"] = d
		}
	}

	md.FaviconURL = favicon(doc, base)

	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if abs := resolve(base, canonical); abs != "" {
			md.Extra["canonical_url"] = abs
		}
	}
	if _, ok := md.Extra["canonical_url"]; !ok {
		md.Extra["canonical_url"] = base.String()
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && lang != "" {
		md.Extra["language"] = lang
	}
	for _, key := range []string{"keywords", "og:type", "og:url", "twitter:card", "theme-color", "product:price:amount", "product:price:currency"} {
		if v := meta.get(key); v != "" {
			md.Extra[key] = v
		}
	}

	images := imageCandidates(doc, meta, base, opts)
	if len(images) > 0 {
		md.ImageURL = images[0]
		if opts.ExtractImages {
			md.Images = images
		}
	}

	md.LinkType = linkType(meta, md, base)

	return md
}

func imageCandidates(doc *goquery.Document, meta *metaTags, base *url.URL, opts Options) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(raw string) {
		if len(out) >= opts.MaxImages {
			return
		}
		abs := resolve(base, raw)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	for _, img := range meta.ogImages {
		add(img)
	}
	for _, img := range meta.twImages {
		add(img)
	}
	if !opts.ExtractImages && len(out) > 0 {
		return out
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := firstNonEmpty(s.AttrOr("src", ""), s.AttrOr("data-src", ""), s.AttrOr("data-lazy-src", ""))
		if src == "" || strings.HasPrefix(strings.TrimSpace(src), "data:") {
			return
		}
		lower := strings.ToLower(src)
		if strings.Contains(lower, "icon") || strings.Contains(lower, "logo") {
			return
		}
		w, _ := strconv.Atoi(s.AttrOr("width", "0"))
		h, _ := strconv.Atoi(s.AttrOr("height", "0"))
		if w > 0 && h > 0 && (w < minImageSide || h < minImageSide) {
			return
		}
		add(src)
	})

	return out
}

func favicon(doc *goquery.Document, base *url.URL) string {
	for _, sel := range []string{`link[rel="icon"]`, `link[rel="shortcut icon"]`, `link[rel="apple-touch-icon"]`} {
		if href, ok := doc.Find(sel).First().Attr("href"); ok {
			if abs := resolve(base, href); abs != "" {
				return abs
			}
		}
	}
	return resolve(base, "/favicon.ico")
}

func linkType(meta *metaTags, md *Metadata, base *url.URL) string {
	ogType := strings.ToLower(meta.get("og:type"))

	if md.VideoURL != "" || strings.HasPrefix(ogType, "video") || meta.get("twitter:card") == "player" {
		return LinkTypeVideo
	}

	path := strings.ToLower(base.Path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return LinkTypeImage
		}
	}

	if ogType == "article" || meta.get("article:author") != "" || meta.get("article:published_time") != "" {
		return LinkTypeArticle
	}
	if ogType == "product" || meta.get("product:price:amount") != "" {
		return LinkTypeProduct
	}
	return LinkTypeWebsite
}

// resolve приводит ссылку к абсолютному http(s) URL; иначе пустая строка
func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if abs.Host == "" {
		return ""
	}
	return abs.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate обрезает строку до max рун, не разрывая UTF-8
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
