package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kozaktomas/camflow/internal/constants"
	"github.com/kozaktomas/camflow/internal/imaging"
	"github.com/kozaktomas/camflow/internal/logger"
	"go.uber.org/zap"
)

// Telegram delivers batches as bot messages: the digest first, then one
// photo per attachment.
type Telegram struct {
	transport
	apiURL string
	token  string
}

// NewTelegram creates the channel. apiURL defaults to the public Bot API.
func NewTelegram(token, apiURL string, opts ...Option) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Telegram{
		transport: newTransport(opts),
		apiURL:    strings.TrimRight(apiURL, "/"),
		token:     token,
	}
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiURL, t.token, method)
}

// Send posts the digest and then every attachment. Only a digest failure is
// returned; attachments that cannot be compressed or sent are skipped.
func (t *Telegram) Send(ctx context.Context, batch Batch, chatID string) error {
	log := logger.FromContext(ctx).With(zap.String("channel", "telegram"))

	for i, chunk := range chunkText(batch.Digest(), constants.MaxMessageChars) {
		if err := t.sendMessage(ctx, chatID, chunk); err != nil {
			return fmt.Errorf("digest message %d failed: %w", i+1, err)
		}
	}

	sent := 0
	for i, att := range batch.Attachments {
		if i > 0 {
			t.sleep(ctx)
		}
		data, err := imaging.CompressToLimit(att.Data, t.maxBytes,
			constants.AttachmentStartQuality, constants.AttachmentMinQuality, constants.AttachmentQualityStep)
		if err != nil {
			log.Warn("skipping attachment", zap.String("name", att.Name), zap.Error(err))
			continue
		}
		if err := t.sendPhoto(ctx, chatID, att.Name, data); err != nil {
			log.Warn("attachment send failed", zap.String("name", att.Name), zap.Error(err))
			continue
		}
		sent++
	}
	log.Info("batch delivered", zap.Int("attachments", sent), zap.Int("attachments_total", len(batch.Attachments)))
	return nil
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("could not marshal request body: %w", err)
	}
	_, err = t.do(ctx, "telegram", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return err
}

func (t *Telegram) sendPhoto(ctx context.Context, chatID, name string, data []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if name == "" {
		name = "photo.jpg"
	}
	part, err := writer.CreateFormFile("photo", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	payload := body.Bytes()
	contentType := writer.FormDataContentType()
	_, err = t.do(ctx, "telegram", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendPhoto"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	return err
}

// chunkText splits s into pieces of at most n runes, preferring line breaks.
func chunkText(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var chunks []string
	runes := []rune(s)
	for len(runes) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
