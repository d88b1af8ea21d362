package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/line_assistant_bridge/internal/quota"
	"github.com/lewisedginton/line_assistant_bridge/internal/router"
	"github.com/lewisedginton/line_assistant_bridge/internal/session"
	"github.com/lewisedginton/line_assistant_bridge/internal/store"
	"github.com/lewisedginton/line_assistant_bridge/pkg/logger"
)

const testChannelSecret = "test-secret"

type fakeClient struct {
	profiles map[string]string
	replies  []string
	pushes   []string
	replyErr error
	pushErr  error
}

func (f *fakeClient) ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error) {
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	for _, m := range req.Messages {
		if text, ok := m.(messaging_api.TextMessage); ok {
			f.replies = append(f.replies, text.Text)
		}
	}
	return &messaging_api.ReplyMessageResponse{}, nil
}

func (f *fakeClient) PushMessage(req *messaging_api.PushMessageRequest, _ string) (*messaging_api.PushMessageResponse, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushes = append(f.pushes, req.To)
	return &messaging_api.PushMessageResponse{}, nil
}

func (f *fakeClient) GetProfile(userID string) (*messaging_api.UserProfileResponse, error) {
	name, ok := f.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile not found")
	}
	return &messaging_api.UserProfileResponse{DisplayName: name}, nil
}

type backendStub struct{ answer string }

func (b *backendStub) Ask(_ context.Context, _ string) (string, error) {
	return b.answer, nil
}

func newTestConnector(t *testing.T) (*Connector, *fakeClient, *store.Memory) {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Format: "json"})
	s := store.NewMemory()

	r := router.New(
		quota.NewManager(s, quota.DefaultMaxQuota, log),
		session.NewMachine(s, session.Config{}, log),
		&backendStub{answer: "the answer"},
		router.Config{},
		log,
	)

	client := &fakeClient{profiles: map[string]string{"U1": "Alice"}}
	return newWithClient(testChannelSecret, client, r, log), client, s
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testChannelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookBody(userID, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"destination": "xxx",
		"events": [{
			"type": "message",
			"mode": "active",
			"timestamp": 1700000000000,
			"webhookEventId": "01HXXXXXXXXXXXXXXXXXXXXXXX",
			"deliveryContext": {"isRedelivery": false},
			"replyToken": "rtok",
			"source": {"type": "user", "userId": %q},
			"message": {"type": "text", "id": "1", "quoteToken": "q", "text": %q}
		}]
	}`, userID, text))
}

func postWebhook(t *testing.T, c *Connector, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", signature)
	rec := httptest.NewRecorder()
	c.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookEchoFlow(t *testing.T) {
	c, client, _ := newTestConnector(t)

	body := webhookBody("U1", "hello")
	rec := postWebhook(t, c, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello"}, client.replies)
}

func TestWebhookAIFlow(t *testing.T) {
	c, client, s := newTestConnector(t)

	body := webhookBody("U1", "hi ai what's up?")
	rec := postWebhook(t, c, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"the answer"}, client.replies)

	recUser, err := s.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.True(t, recUser.AIMode)
	assert.Equal(t, "Alice", recUser.DisplayName)
	assert.Equal(t, quota.DefaultMaxQuota-1, recUser.QuotaRemaining)
}

func TestWebhookInvalidSignature(t *testing.T) {
	c, client, _ := newTestConnector(t)

	body := webhookBody("U1", "hello")
	rec := postWebhook(t, c, body, "bogus")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, client.replies)
}

func TestWebhookAcksDespiteFailures(t *testing.T) {
	t.Run("profile lookup fails", func(t *testing.T) {
		c, client, s := newTestConnector(t)
		delete(client.profiles, "U1")

		body := webhookBody("U1", "hi ai")
		rec := postWebhook(t, c, body, sign(body))

		// Acknowledged, but no reply and no state change.
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, client.replies)
		_, err := s.Get(context.Background(), "U1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("reply delivery fails", func(t *testing.T) {
		c, client, _ := newTestConnector(t)
		client.replyErr = fmt.Errorf("delivery failed")

		body := webhookBody("U1", "hello")
		rec := postWebhook(t, c, body, sign(body))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestWebhookIgnoresNonTextEvents(t *testing.T) {
	c, client, _ := newTestConnector(t)

	body := []byte(`{
		"destination": "xxx",
		"events": [{
			"type": "message",
			"mode": "active",
			"timestamp": 1700000000000,
			"webhookEventId": "01HXXXXXXXXXXXXXXXXXXXXXXX",
			"deliveryContext": {"isRedelivery": false},
			"replyToken": "rtok",
			"source": {"type": "user", "userId": "U1"},
			"message": {"type": "sticker", "id": "1", "packageId": "1", "stickerId": "2"}
		}]
	}`)
	rec := postWebhook(t, c, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, client.replies)
}

func TestPushText(t *testing.T) {
	c, client, _ := newTestConnector(t)
	ctx := context.Background()

	require.NoError(t, c.PushText(ctx, "U1", "wake up"))
	assert.Equal(t, []string{"U1"}, client.pushes)

	t.Run("delivery error is surfaced", func(t *testing.T) {
		client.pushErr = fmt.Errorf("down")
		assert.Error(t, c.PushText(ctx, "U1", "wake up"))
	})

	t.Run("canceled context short-circuits", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, c.PushText(canceled, "U1", "wake up"))
	})
}

func TestGetDisplayName(t *testing.T) {
	c, _, _ := newTestConnector(t)

	name, err := c.GetDisplayName(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	_, err = c.GetDisplayName(context.Background(), "unknown")
	assert.Error(t, err)
}
