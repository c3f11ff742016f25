package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

func setupServicesDB(t testing.TB) (*db.DBQueue, func()) {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	queue := db.NewDBQueueForTest(conn)
	return queue, func() {
		queue.Close()
		conn.Close()
	}
}

// fakeAPI records outbound calls and fails them according to queued errors.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sendErrs []error
	editErrs []error
	sent     []*bot.SendMessageParams
	edited   []*bot.EditMessageTextParams
	sendCall int
	editCall int
	failChat map[int64]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, failChat: map[int64]error{}}
}

func (f *fakeAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCall++
	if id, ok := params.ChatID.(int64); ok {
		if err := f.failChat[id]; err != nil {
			return nil, err
		}
	}
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	f.sent = append(f.sent, params)
	return &tgmodels.Message{ID: f.nextID}, nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editCall++
	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.edited = append(f.edited, params)
	return &tgmodels.Message{ID: params.MessageID}, nil
}

func (f *fakeAPI) calls() (sends, edits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCall, f.editCall
}

func (f *fakeAPI) sentTo(chatID int64) []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*bot.SendMessageParams
	for _, p := range f.sent {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

type recordedFailure struct {
	chatID int64
	method string
}

type fakeNotifier struct {
	ch chan recordedFailure
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan recordedFailure, 16)}
}

func (n *fakeNotifier) NotifyDeliveryFailure(_ context.Context, chatID int64, method string, _ interface{}, _ error) {
	n.ch <- recordedFailure{chatID: chatID, method: method}
}

func forbidden() error {
	return fmt.Errorf("%w, %s", bot.ErrorForbidden, "Forbidden: bot was blocked by the user")
}

func badRequest(desc string) error {
	return fmt.Errorf("%w, %s", bot.ErrorBadRequest, desc)
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
