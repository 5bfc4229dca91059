package extractor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	result *RenderResult
	err    error
}

func (f *fakeRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestDynamicExtractMergesObservedLinks(t *testing.T) {
	renderer := &fakeRenderer{result: &RenderResult{
		HTML: `<body><img src="/static/logo.png"></body>`,
		Links: []string{
			"/api/lessons.json",
			"/static/logo.png", // duplicate of a DOM link
		},
	}}
	d := NewDynamicExtractor(renderer, Options{})

	res, err := d.Extract(context.Background(), RenderRequest{URL: "https://x.com/app"})
	require.NoError(t, err)

	urls := make([]string, 0, len(res.Links))
	for _, l := range res.Links {
		urls = append(urls, l.URL)
	}
	assert.Equal(t, []string{"https://x.com/static/logo.png", "https://x.com/api/lessons.json"}, urls)
}

func TestDynamicExtractUsesRedirectAsBase(t *testing.T) {
	renderer := &fakeRenderer{result: &RenderResult{
		HTML:        `<body><img src="a.png"></body>`,
		RedirectURL: "https://cdn.x.com/player/",
		Cookies:     []*http.Cookie{{Name: "session", Value: "s1"}},
	}}
	d := NewDynamicExtractor(renderer, Options{})

	res, err := d.Extract(context.Background(), RenderRequest{URL: "https://x.com/app"})
	require.NoError(t, err)

	require.Len(t, res.Links, 1)
	assert.Equal(t, "https://cdn.x.com/player/a.png", res.Links[0].URL)
	assert.Equal(t, "session=s1", CookieString(res.Cookies))
}

func TestDynamicExtractWrapsRenderFailure(t *testing.T) {
	d := NewDynamicExtractor(&fakeRenderer{err: errors.New("navigation refused")}, Options{})

	_, err := d.Extract(context.Background(), RenderRequest{URL: "https://x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render page")
}

func TestDynamicExtractPropagatesCancellation(t *testing.T) {
	d := NewDynamicExtractor(&fakeRenderer{err: context.Canceled}, Options{})

	_, err := d.Extract(context.Background(), RenderRequest{URL: "https://x.com"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, context.Canceled, err, "cancellation must not be wrapped")
}
