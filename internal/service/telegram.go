package service

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"spot-cycle-trader/internal/logger"
)

const queueSize = 64

// TelegramService sends operator messages from a single background worker. Notify never
// blocks; messages are dropped when the queue is full. Without credentials it only logs.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	queue  chan string
	wg     sync.WaitGroup
	once   sync.Once
}

func NewTelegramService(token, chatID string) (*TelegramService, error) {
	return newTelegramService(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
}

func newTelegramService(token, chatID, endpoint string, client *http.Client) (*TelegramService, error) {
	s := &TelegramService{queue: make(chan string, queueSize)}
	if token == "" || chatID == "" {
		logger.Warn("Telegram credentials not set, notifications go to the log only")
		return s, nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login failed: %w", err)
	}
	s.bot = bot
	s.chatID = id

	s.wg.Add(1)
	go s.worker()
	return s, nil
}

func (s *TelegramService) Notify(text string) {
	if s.bot == nil {
		logger.Info("Notification", "text", text)
		return
	}
	select {
	case s.queue <- text:
	default:
		logger.Warn("Telegram queue full, dropping message")
	}
}

func (s *TelegramService) worker() {
	defer s.wg.Done()
	for text := range s.queue {
		msg := tgbotapi.NewMessage(s.chatID, text)
		if _, err := s.bot.Send(msg); err != nil {
			logger.Error("Failed to send Telegram message", "error", err)
		}
	}
}

// Close delivers queued messages and stops the worker. Notify must not be called after.
func (s *TelegramService) Close() {
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}
