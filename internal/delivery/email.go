package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/kozaktomas/camflow/internal/logger"
	"go.uber.org/zap"
)

// MailSession supplies the access token of a signed-in mail account.
type MailSession interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticSession is a session backed by a fixed token.
type StaticSession string

func (s StaticSession) AccessToken(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoMailSession
	}
	return string(s), nil
}

// Email sends a batch as a single multipart MIME message through a
// Gmail-compatible send endpoint.
type Email struct {
	transport
	apiURL  string
	from    string
	session MailSession
}

func NewEmail(apiURL, from string, session MailSession, opts ...Option) *Email {
	if apiURL == "" {
		apiURL = "https://gmail.googleapis.com"
	}
	return &Email{
		transport: newTransport(opts),
		apiURL:    strings.TrimRight(apiURL, "/"),
		from:      from,
		session:   session,
	}
}

// Send fails with ErrNoMailSession before any network call when no token is available.
func (e *Email) Send(ctx context.Context, batch Batch, to string) error {
	if e.session == nil {
		return ErrNoMailSession
	}
	token, err := e.session.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoMailSession, err)
	}
	if token == "" {
		return ErrNoMailSession
	}

	msg, err := e.compose(batch, to)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"raw": base64.URLEncoding.EncodeToString(msg)})
	if err != nil {
		return fmt.Errorf("could not marshal request body: %w", err)
	}

	_, err = e.do(ctx, "email", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.apiURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Info("batch delivered",
		zap.String("channel", "email"), zap.Int("attachments", len(batch.Attachments)))
	return nil
}

// compose builds a multipart/mixed message: a text/plain body followed by
// base64 attachments.
func (e *Email) compose(batch Batch, to string) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	textHeader.Set("Content-Transfer-Encoding", "base64")
	part, err := writer.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if err := writeBase64(part, []byte(batch.Digest())); err != nil {
		return nil, err
	}

	for i, att := range batch.Attachments {
		name := att.Name
		if name == "" {
			name = fmt.Sprintf("image-%d.jpg", i+1)
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", imaging.DetectMIMEType(att.Data))
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if err := writeBase64(part, att.Data); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	subject := batch.Title
	if subject == "" {
		subject = "CamFlow results"
	}

	var msg bytes.Buffer
	if e.from != "" {
		fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	}
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// writeBase64 writes data base64 encoded in 76 character lines.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:76]); err != nil {
			return fmt.Errorf("failed to write part: %w", err)
		}
		encoded = encoded[76:]
	}
	if _, err := fmt.Fprintf(w, "%s\r\n", encoded); err != nil {
		return fmt.Errorf("failed to write part: %w", err)
	}
	return nil
}
