package video

import (
	"bytes"
	"strconv"
)

// Wire models for the player configuration envelopes the supported
// platforms embed in their pages. Only the fields the resolver reads
// are declared.

type wistiaMedia struct {
	Name      string        `json:"name"`
	HashedID  string        `json:"hashedId"`
	MediaType string        `json:"mediaType"`
	Assets    []wistiaAsset `json:"assets"`
	Options   wistiaOptions `json:"options"`
}

type wistiaAsset struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Codec string `json:"codec"`
	Width int    `json:"width"`
	Size  int64  `json:"size"`
}

type wistiaOptions struct {
	PlayerColor string `json:"playerColor"`
}

// wistiaEnvelope wraps the ".jsonp" script-embed variant, where the
// media object sits under a "media" key.
type wistiaEnvelope struct {
	Media wistiaMedia `json:"media"`
}

type vimeoConfig struct {
	Request   vimeoRequest `json:"request"`
	Video     vimeoClip    `json:"video"`
	PlayerURL string       `json:"player_url"`
}

type vimeoRequest struct {
	Files      vimeoFiles       `json:"files"`
	TextTracks []vimeoTextTrack `json:"text_tracks"`
}

type vimeoFiles struct {
	Progressive []vimeoProgressive `json:"progressive"`
}

type vimeoProgressive struct {
	Height int    `json:"height"`
	URL    string `json:"url"`
}

type vimeoTextTrack struct {
	Label string `json:"label"`
	Lang  string `json:"lang"`
	URL   string `json:"url"`
}

type vimeoClip struct {
	Thumbs map[string]string `json:"thumbs"`
}

type hapyakVideo struct {
	Media hapyakMedia `json:"media"`
}

type hapyakMedia struct {
	MediaType string        `json:"mediaType"`
	HashedID  string        `json:"hashedId"`
	Assets    []hapyakAsset `json:"assets"`
}

// hapyakAsset sizes arrive as either numbers or numeric strings
// depending on the serving endpoint, hence the flexible decoder.
type hapyakAsset struct {
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Codec string   `json:"codec"`
	Width int      `json:"width"`
	Size  flexSize `json:"size"`
}

func (a hapyakAsset) byteSize() int64 { return int64(a.Size) }

type flexSize int64

func (n *flexSize) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	s := string(b)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = flexSize(v)
	return nil
}

type wistiaSubtitles struct {
	Captions []wistiaCaption `json:"captions"`
}

type wistiaCaption struct {
	Language    string      `json:"language"`
	EnglishName string      `json:"english_name"`
	NativeName  string      `json:"native_name"`
	Hash        *wistiaHash `json:"hash"`
}

type wistiaHash struct {
	Lines []wistiaLine `json:"lines"`
}

type wistiaLine struct {
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Text  []string `json:"text"`
}
