package extractors

import (
	"bytes"
	"context"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/hazyhaar/kreuzberg/config"
	"github.com/hazyhaar/kreuzberg/document"
	"github.com/hazyhaar/kreuzberg/kerr"
	"github.com/hazyhaar/kreuzberg/mime"
)

// Email extracts RFC 822 messages: headers into metadata, the plain-text
// body (or the visible text of the HTML body) into content.
type Email struct{}

func (Email) Name() string                 { return "email" }
func (Email) SupportedMIMETypes() []string { return []string{mime.EML} }

func (Email) Extract(_ context.Context, data []byte, mimeType string, _ *config.ExtractionConfig) (*document.Outcome, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return nil, kerr.Parsing("email: %v", err)
	}

	body := strings.TrimSpace(env.Text)
	if body == "" && env.HTML != "" {
		body = htmlText([]byte(env.HTML))
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	meta := document.Metadata{}
	subject := env.GetHeader("Subject")
	if subject != "" {
		meta["subject"] = subject
		meta[document.MetaTitle] = subject
	}
	if from := env.GetHeader("From"); from != "" {
		meta["from"] = from
	}
	for _, key := range []string{"To", "Cc"} {
		if addrs, err := env.AddressList(key); err == nil && len(addrs) > 0 {
			list := make([]string, 0, len(addrs))
			for _, a := range addrs {
				list = append(list, a.Address)
			}
			meta[strings.ToLower(key)] = list
		}
	}
	if date := env.GetHeader("Date"); date != "" {
		meta["date"] = date
	}
	if id := env.GetHeader("Message-Id"); id != "" {
		meta["message_id"] = strings.Trim(id, "<>")
	}

	var attachments []string
	for _, part := range env.Attachments {
		if part.FileName != "" {
			attachments = append(attachments, part.FileName)
		}
	}
	if len(attachments) > 0 {
		meta["attachments"] = attachments
	}

	var sections []document.Element
	if subject != "" {
		sections = append(sections, document.Element{Type: document.ElementTitle, Text: subject})
	}
	for _, para := range strings.Split(body, "\n\n") {
		if p := strings.TrimSpace(para); p != "" {
			sections = append(sections, document.Element{Type: document.ElementParagraph, Text: p})
		}
	}

	content := body
	if subject != "" {
		content = strings.TrimSpace("Subject: " + subject + "\n\n" + body)
	}
	return &document.Outcome{
		Content:  content,
		MIMEType: mimeType,
		Metadata: meta,
		Sections: sections,
	}, nil
}
