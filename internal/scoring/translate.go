package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Translator calls the optional translation collaborator. Translation is a
// pre-processing nicety: any failure degrades to the original text and must
// never block an intake.
type Translator struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewTranslator creates a translation client. An empty baseURL disables
// translation entirely.
func NewTranslator(baseURL string, timeout time.Duration, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Translator{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger,
	}
}

type translateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// Translate returns text translated to targetLang, or the original text when
// translation is disabled, fails, or returns an empty result.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) string {
	if t.baseURL == "" || strings.TrimSpace(text) == "" || targetLang == "" {
		return text
	}

	body, err := json.Marshal(translateRequest{Text: text, TargetLang: targetLang})
	if err != nil {
		return text
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return text
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		t.logger.Warn("translation failed, using original text", zap.Error(err))
		return text
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("translation returned non-success status, using original text",
			zap.Int("status", resp.StatusCode))
		return text
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.TranslatedText == "" {
		return text
	}
	return out.TranslatedText
}
