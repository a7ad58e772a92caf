package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gratefultolord/payverify_bot/internal/db"
	"github.com/gratefultolord/payverify_bot/internal/notify"
	"github.com/gratefultolord/payverify_bot/internal/payment"
)

type fakeAPI struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sent = append(a.sent, c)

	return tgbotapi.Message{}, nil
}

func (a *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (a *fakeAPI) StopReceivingUpdates() {}

func (a *fakeAPI) lastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.sent) - 1; i >= 0; i-- {
		if msg, ok := a.sent[i].(tgbotapi.MessageConfig); ok {
			return msg.Text
		}
	}

	return ""
}

func (a *fakeAPI) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var texts []string
	for _, c := range a.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			texts = append(texts, msg.Text)
		}
	}

	return texts
}

type fakeFiles struct {
	saveErr error
	deleted []string
}

func (f *fakeFiles) SaveFile(_ context.Context, fileID string) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}

	return "doc_files/" + fileID + ".jpg", nil
}

func (f *fakeFiles) DeleteFile(path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

func newTestBot(t *testing.T) (*BotService, *fakeAPI, *fakeFiles, *payment.Service) {
	t.Helper()

	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.RunMigrations(database.Conn))

	svc := payment.NewService(db.NewPaymentRequestRepository(database.Conn), payment.Options{
		Rules: payment.DefaultRules(),
	})

	api := &fakeAPI{}
	files := &fakeFiles{}

	return New(api, svc, files, zaptest.NewLogger(t), 2), api, files, svc
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
}

func photoMessage(chatID int64, fileIDs ...string) *tgbotapi.Message {
	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}}
	for i, id := range fileIDs {
		msg.Photo = append(msg.Photo, tgbotapi.PhotoSize{FileID: id, Width: 100 * (i + 1), Height: 100 * (i + 1)})
	}

	return msg
}

func TestHandleMessage_FullSubmission(t *testing.T) {
	b, api, _, svc := newTestBot(t)
	ctx := context.Background()

	const chatID = 100

	b.HandleMessage(ctx, textMessage(chatID, "/deposit"))
	assert.Contains(t, api.lastText(), "account number")

	b.HandleMessage(ctx, textMessage(chatID, "123456789"))
	assert.Contains(t, api.lastText(), "amount")

	b.HandleMessage(ctx, textMessage(chatID, "5000"))
	assert.Contains(t, api.lastText(), "payment channel")

	b.HandleMessage(ctx, textMessage(chatID, "KBZ Pay"))
	assert.Contains(t, api.lastText(), "screenshot")

	b.HandleMessage(ctx, photoMessage(chatID, "small", "large"))
	assert.Contains(t, api.lastText(), "sent for review")

	req, err := svc.ActiveFor(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPendingReview, req.Status)
	assert.Equal(t, "KBZ", *req.Channel)
	assert.Equal(t, "doc_files/large.jpg", req.Proof.Ref)

	b.HandleMessage(ctx, textMessage(chatID, "hello?"))
	assert.Contains(t, api.lastText(), "being reviewed")

	b.HandleMessage(ctx, textMessage(chatID, "/deposit"))
	assert.Contains(t, api.lastText(), "already have request")
}

func TestHandleMessage_InvalidValueRePrompts(t *testing.T) {
	b, api, _, svc := newTestBot(t)
	ctx := context.Background()

	b.HandleMessage(ctx, textMessage(7, "/deposit"))
	b.HandleMessage(ctx, textMessage(7, "12"))

	texts := api.texts()
	require.GreaterOrEqual(t, len(texts), 2)
	assert.Contains(t, texts[len(texts)-2], "Invalid account number")
	assert.Contains(t, texts[len(texts)-1], "Enter your account number")

	req, err := svc.ActiveFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.FieldIdentifier, req.ActiveStep)
}

func TestHandleMessage_RejectedProofIsDeleted(t *testing.T) {
	b, _, files, svc := newTestBot(t)
	ctx := context.Background()

	req, err := svc.Begin(ctx, 7)
	require.NoError(t, err)
	for _, step := range []struct {
		f payment.Field
		v string
	}{
		{payment.FieldIdentifier, "123456789"},
		{payment.FieldAmount, "5000"},
		{payment.FieldChannel, "KBZ"},
	} {
		_, err := svc.SubmitField(ctx, req.ID, step.f, payment.Text(step.v))
		require.NoError(t, err)
	}

	msg := textMessage(7, "")
	msg.Document = &tgbotapi.Document{FileID: "archive", MimeType: "application/zip"}
	b.HandleMessage(ctx, msg)

	assert.Equal(t, []string{"doc_files/archive.jpg"}, files.deleted)

	stored, err := svc.ActiveFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCollecting, stored.Status)
	assert.Nil(t, stored.Proof)
}

func TestHandleMessage_DownloadFailure(t *testing.T) {
	b, api, files, svc := newTestBot(t)
	ctx := context.Background()

	req, err := svc.Begin(ctx, 7)
	require.NoError(t, err)
	for _, step := range []struct {
		f payment.Field
		v string
	}{
		{payment.FieldIdentifier, "123456789"},
		{payment.FieldAmount, "5000"},
		{payment.FieldChannel, "KBZ"},
	} {
		_, err := svc.SubmitField(ctx, req.ID, step.f, payment.Text(step.v))
		require.NoError(t, err)
	}

	files.saveErr = errors.New("telegram unavailable")
	b.HandleMessage(ctx, photoMessage(7, "photo"))

	assert.Contains(t, api.lastText(), "Could not save the file")
}

func TestHandleMessage_Status(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	ctx := context.Background()

	b.HandleMessage(ctx, textMessage(7, notify.ButtonStatus))
	assert.Contains(t, api.lastText(), "no open requests")

	b.HandleMessage(ctx, textMessage(7, "/deposit"))
	b.HandleMessage(ctx, textMessage(7, "123456789"))
	b.HandleMessage(ctx, textMessage(7, notify.ButtonStatus))
	assert.Contains(t, api.lastText(), "Account: 123456789")
	assert.Contains(t, api.lastText(), "waiting for your amount")
}

func TestHandleMessage_BankInfo(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	b.HandleMessage(context.Background(), textMessage(7, notify.ButtonBankInfo))

	text := api.lastText()
	assert.Contains(t, text, "Pay to one of these accounts")
	for _, ch := range payment.DefaultCatalog {
		assert.Contains(t, text, ch.Name)
	}
}

func TestHandleMessage_NoActiveRequest(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	b.HandleMessage(context.Background(), textMessage(7, "123456789"))
	assert.Contains(t, api.lastText(), "choose an option")
}

func TestLargestPhoto(t *testing.T) {
	photos := []tgbotapi.PhotoSize{
		{FileID: "medium", Width: 320, Height: 320},
		{FileID: "large", Width: 1280, Height: 1280},
		{FileID: "small", Width: 90, Height: 90},
	}

	assert.Equal(t, "large", largestPhoto(photos))
}
