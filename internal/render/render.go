// Package render turns a raw RFC 822 message into its plain-text and HTML
// renditions for read views. Rendering happens per request and is never
// cached; a message that cannot be parsed renders with both bodies absent.
package render

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

func init() {
	message.CharsetReader = charsetReader
}

// Rendition holds the decoded bodies. A nil field means the message has no
// such part or could not be parsed.
type Rendition struct {
	Text *string
	HTML *string
}

type Renderer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render never fails; parse errors are logged and yield an empty Rendition.
func (r *Renderer) Render(raw []byte) Rendition {
	if len(raw) == 0 {
		return Rendition{}
	}
	text, html, err := parseBodies(raw)
	if err != nil {
		r.logger.Warn("render message body", "error", err)
		return Rendition{}
	}
	if text == "" && html != "" {
		text = htmlToText(html)
	}

	var out Rendition
	if text != "" {
		out.Text = &text
	}
	if html != "" {
		out.HTML = &html
	}
	return out
}

func parseBodies(raw []byte) (string, string, error) {
	// an unknown charset leaves the body undecoded but still readable
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (reader == nil || !message.IsUnknownCharset(err)) {
		return "", "", fmt.Errorf("create reader: %w", err)
	}
	defer reader.Close()

	var text, html strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			return "", "", fmt.Errorf("next part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return "", "", fmt.Errorf("read part: %w", err)
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			appendPart(&text, body)
		case strings.HasPrefix(mediaType, "text/html"):
			appendPart(&html, body)
		}
	}
	return text.String(), html.String(), nil
}

func appendPart(b *strings.Builder, body []byte) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.Write(body)
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := lookupEncoding(strings.ToLower(strings.TrimSpace(charset)))
	if err != nil {
		return nil, fmt.Errorf("unhandled charset %q: %w", charset, err)
	}
	if enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil, nil
	case "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		enc, err = ianaindex.IANA.Encoding(charset)
	}
	if err != nil {
		return nil, err
	}
	return enc, nil
}
