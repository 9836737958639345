// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package body decodes MIME payload trees into a plain-text and HTML
// rendering.  Extraction is best effort: a part that fails to decode
// contributes an empty string and never fails hydration.
package body

import (
	"encoding/base64"
	"strings"

	"github.com/mverdier/mailtriage/internal/message"

	"golang.org/x/net/html"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Extract returns the (plainText, html) pair for a payload tree.
//
// A text/plain root is returned verbatim.  A text/html root keeps the
// raw markup and derives the text by stripping tags.  Multipart roots
// are scanned one level deep: the first text/plain child and the
// first text/html child win, and when only HTML was found the text is
// derived from it.
func Extract(p *message.Part) (text, htmlBody string) {
	if p == nil {
		return "", ""
	}

	switch p.MimeType {
	case mimeTextPlain:
		return decode(p.Data), ""
	case mimeTextHTML:
		htmlBody = decode(p.Data)
		return HTMLToText(htmlBody), htmlBody
	}

	for _, part := range p.Parts {
		switch part.MimeType {
		case mimeTextPlain:
			if text == "" {
				text = decode(part.Data)
			}
		case mimeTextHTML:
			if htmlBody == "" {
				htmlBody = decode(part.Data)
			}
		}
	}
	if text == "" && htmlBody != "" {
		text = HTMLToText(htmlBody)
	}
	return text, htmlBody
}

// decode decodes URL-safe base64 body data.  The provider emits both
// padded and unpadded forms; either is accepted.  Failures yield "".
func decode(data string) string {
	if data == "" {
		return ""
	}
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

// HTMLToText reduces HTML markup to newline-joined text nodes.
// Script, style and head subtrees are dropped; block elements
// terminate the current line.  Unparsable input yields "".
func HTMLToText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "noscript", "iframe":
				return
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteString(" ")
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteString("\n")
				}
			}
		}
	}
	walk(doc)

	return strings.TrimSpace(sb.String())
}
