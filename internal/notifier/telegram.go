package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vnquant/signalbot/internal/signal"
	"github.com/vnquant/signalbot/internal/utils"
)

type TelegramNotifier struct {
	Token      string
	ChatID     string
	MaxRetries int
	RetryDelay time.Duration
}

func NewTelegramNotifier(token, chatID string, maxRetries int, retryDelay time.Duration) *TelegramNotifier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &TelegramNotifier{Token: token, ChatID: chatID, MaxRetries: maxRetries, RetryDelay: retryDelay}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

func (t *TelegramNotifier) SendWithRetry(message string) error {
	var lastErr error
	for attempt := 1; attempt <= t.MaxRetries; attempt++ {
		lastErr = t.Send(message)
		if lastErr == nil {
			return nil
		}
		utils.GetLogger().Printf("Notifier | Telegram send failed (attempt %d/%d): %v", attempt, t.MaxRetries, lastErr)
		time.Sleep(t.RetryDelay)
	}
	return lastErr
}

// FormatSignal renders a signal as a human-readable notification message.
func FormatSignal(s signal.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s @ %.2f (%s)\n", s.Type, s.Symbol, s.Price, s.Timeframe)
	fmt.Fprintf(&b, "Confidence: %.1f", s.Confidence)
	if s.OriginalConfidence != s.Confidence {
		fmt.Fprintf(&b, " (base %.1f)", s.OriginalConfidence)
	}
	b.WriteString("\n")
	if s.IsActionable() {
		fmt.Fprintf(&b, "SL: %.2f, TP: %.2f, R/R: %.2f\n", s.StopLoss, s.TakeProfit, s.RiskReward)
		fmt.Fprintf(&b, "Size: %.2f%% of capital\n", s.PositionSizePct)
	}
	for _, r := range s.Reasoning {
		fmt.Fprintf(&b, "- %s: %s\n", r.Layer, r.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatClose renders a closed position as a notification message.
func FormatClose(s signal.Signal) string {
	return fmt.Sprintf("%s closed (%s): entry %.2f, exit %.2f, P/L %.2f%%",
		s.Symbol, s.CloseReason, s.ExecutionPrice, s.ClosePrice, s.ProfitLossPct)
}
