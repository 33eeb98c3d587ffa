package extractor_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/SergeiKhy/link-preview/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExtractor() *extractor.Extractor {
	return extractor.New(extractor.Config{AllowPrivate: true}, zap.NewNop())
}

func serveHTML(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestExtract_OpenGraphPriority проверяет приоритет og → twitter → html
func TestExtract_OpenGraphPriority(t *testing.T) {
	srv := serveHTML(t, `<!doctype html>
<html lang="en"><head>
<title>HTML Title</title>
<meta property="og:title" content="OG Title">
<meta name="twitter:title" content="Twitter Title">
<meta name="twitter:description" content="Twitter description">
<meta name="description" content="HTML description">
<meta property="og:site_name" content="Example Site">
<meta property="og:type" content="article">
<meta property="og:image" content="/images/cover.jpg">
<meta name="twitter:image" content="https://cdn.example.com/tw.png">
<meta property="article:published_time" content="2024-01-02T10:00:00Z">
<meta name="author" content="Jane Doe">
<link rel="icon" href="/static/favicon.png">
<link rel="canonical" href="/canonical">
</head><body>
<img src="data:image/png;base64,AAAA">
<img src="/tiny.png" width="16" height="16">
<img src="/assets/logo.png">
<img src="javascript:alert(1)">
<img data-src="/photos/big.jpg" width="800" height="600">
</body></html>`)

	md, err := newTestExtractor().Extract(context.Background(), srv.URL+"/post", extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "OG Title", md.Title)
	assert.Equal(t, "Twitter description", md.Description)
	assert.Equal(t, "Example Site", md.SiteName)
	assert.Equal(t, "Jane Doe", md.Author)
	assert.Equal(t, "2024-01-02T10:00:00Z", md.PublishedAt)
	assert.Equal(t, extractor.LinkTypeArticle, md.LinkType)
	assert.Equal(t, srv.URL+"/images/cover.jpg", md.ImageURL)
	assert.Equal(t, []string{
		srv.URL + "/images/cover.jpg",
		"https://cdn.example.com/tw.png",
		srv.URL + "/photos/big.jpg",
	}, md.Images)
	assert.Equal(t, srv.URL+"/static/favicon.png", md.FaviconURL)
	assert.Equal(t, srv.URL+"/canonical", md.Extra["canonical_url"])
	assert.Equal(t, "en", md.Extra["language"])
}

// TestExtract_HTMLFallback проверяет запасные html-теги
func TestExtract_HTMLFallback(t *testing.T) {
	srv := serveHTML(t, `<html><head>
<title>
   Plain    page
</title>
<meta name="description" content="Only html description">
</head><body></body></html>`)

	md, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "Plain page", md.Title)
	assert.Equal(t, "Only html description", md.Description)
	assert.Equal(t, "127.0.0.1", md.SiteName)
	assert.Equal(t, srv.URL+"/favicon.ico", md.FaviconURL)
	assert.Equal(t, extractor.LinkTypeWebsite, md.LinkType)
	assert.Empty(t, md.ImageURL)
}

// TestExtract_TruncatesRuneSafely проверяет обрезку многобайтовых строк
func TestExtract_TruncatesRuneSafely(t *testing.T) {
	long := strings.Repeat("é", 300)
	desc := strings.Repeat("日本", 400)
	srv := serveHTML(t, `<html><head><meta property="og:title" content="`+long+`">
<meta property="og:description" content="`+desc+`"></head></html>`)

	md, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 200, utf8.RuneCountInString(md.Title))
	assert.True(t, utf8.ValidString(md.Title))
	assert.Equal(t, 500, utf8.RuneCountInString(md.Description))
	assert.True(t, utf8.ValidString(md.Description))
}

// TestExtract_DecodesCharset проверяет декодирование не-UTF-8 страниц
func TestExtract_DecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		// "Привет" в cp1251
		_, _ = w.Write([]byte("<html><head><title>\xcf\xf0\xe8\xe2\xe5\xf2</title></head></html>"))
	}))
	defer srv.Close()

	md, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Привет", md.Title)
}

// TestExtract_FollowsRedirects проверяет разрешение ссылок относительно конечного URL
func TestExtract_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/blog/final", http.StatusFound)
	})
	mux.HandleFunc("/blog/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><meta property="og:image" content="cover.png"></head></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	md, err := newTestExtractor().Extract(context.Background(), srv.URL+"/start", extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/blog/final", md.FinalURL)
	assert.Equal(t, srv.URL+"/blog/cover.png", md.ImageURL)
}

// TestExtract_TooManyRedirects проверяет лимит редиректов
func TestExtract_TooManyRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/r/"))
		http.Redirect(w, r, "/r/"+strconv.Itoa(n+1), http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestExtractor().Extract(context.Background(), srv.URL+"/r/0", extractor.DefaultOptions())
	assert.ErrorIs(t, err, extractor.ErrTooManyRedirects)
}

// TestExtract_UpstreamStatus проверяет ошибку сервера
func TestExtract_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, extractor.ErrUpstreamStatus)

	var upstream *extractor.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
}

// TestExtract_NonSuccessStatus проверяет, что 1xx/3xx без перехода тоже ошибка
func TestExtract_NonSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusMultipleChoices, http.StatusNotModified} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(status)
			fmt.Fprint(w, "<html><head><title>Choose</title></head></html>")
		}))

		md, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
		srv.Close()

		require.ErrorIs(t, err, extractor.ErrUpstreamStatus, "status %d", status)
		assert.Nil(t, md)

		var upstream *extractor.UpstreamError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, status, upstream.StatusCode)
	}
}

// TestExtract_Timeout проверяет дедлайн загрузки
func TestExtract_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	opts := extractor.DefaultOptions()
	opts.Timeout = 50 * time.Millisecond

	_, err := newTestExtractor().Extract(context.Background(), srv.URL, opts)
	assert.ErrorIs(t, err, extractor.ErrTimeout)
}

// TestExtract_ImageContent проверяет прямую ссылку на изображение
func TestExtract_ImageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	md, err := newTestExtractor().Extract(context.Background(), srv.URL+"/pic.png", extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, extractor.LinkTypeImage, md.LinkType)
	assert.Equal(t, srv.URL+"/pic.png", md.ImageURL)
	assert.Empty(t, md.Title)
}

// TestExtract_NonHTMLContent проверяет пустую запись для прочих типов
func TestExtract_NonHTMLContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	md, err := newTestExtractor().Extract(context.Background(), srv.URL+"/doc.pdf", extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Empty(t, md.Title)
	assert.Empty(t, md.ImageURL)
	assert.Equal(t, "127.0.0.1", md.SiteName)
	assert.Equal(t, extractor.LinkTypeOther, md.LinkType)
}

// TestExtract_BodyLimit проверяет, что читается не больше MaxBodyBytes
func TestExtract_BodyLimit(t *testing.T) {
	srv := serveHTML(t, `<html><head><title>Early</title></head><body>`+
		strings.Repeat("x", 8192)+
		`<meta property="og:title" content="Late"></body></html>`)

	opts := extractor.DefaultOptions()
	opts.MaxBodyBytes = 1024

	md, err := newTestExtractor().Extract(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, "Early", md.Title)
}

// TestExtract_BlocksPrivateByDefault проверяет защиту от SSRF на уровне соединения
func TestExtract_BlocksPrivateByDefault(t *testing.T) {
	srv := serveHTML(t, `<html><head><title>secret</title></head></html>`)

	_, err := extractor.New(extractor.Config{}, zap.NewNop()).Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	assert.ErrorIs(t, err, extractor.ErrFetch)
}

// TestExtract_VideoLinkType проверяет определение видео
func TestExtract_VideoLinkType(t *testing.T) {
	srv := serveHTML(t, `<html><head>
<meta property="og:title" content="Clip">
<meta property="og:video:secure_url" content="https://video.example.com/clip.mp4">
<meta property="og:video:type" content="video/mp4">
</head></html>`)

	md, err := newTestExtractor().Extract(context.Background(), srv.URL, extractor.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, extractor.LinkTypeVideo, md.LinkType)
	assert.Equal(t, "https://video.example.com/clip.mp4", md.VideoURL)
	assert.Equal(t, "video/mp4", md.Extra["video_type"])
}
