// Package push delivers Web Push notifications to users without a live
// signaling connection, using VAPID-signed requests.
package push

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/warasat/Chat-Application/internal/config"
	"github.com/warasat/Chat-Application/internal/models"
)

// Notifier sends one notification per stored subscription. Endpoints
// that report themselves gone (404/410) are pruned on the spot.
type Notifier struct {
	db   *gorm.DB
	keys *config.VAPIDKeys
	log  *slog.Logger
}

func NewNotifier(db *gorm.DB, keys *config.VAPIDKeys, log *slog.Logger) *Notifier {
	return &Notifier{db: db, keys: keys, log: log}
}

// Notify pushes title/body to every subscription registered for userID.
// A user with no subscriptions is not an error.
func (n *Notifier) Notify(userID, title, body string) error {
	var subs []models.PushSubscription
	if err := n.db.Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return err
	}
	if len(subs) == 0 {
		n.log.Debug("no push subscriptions", "user_id", userID)
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"title":   title,
		"body":    body,
		"urgency": "high",
	})
	if err != nil {
		return err
	}

	var lastErr error
	for _, sub := range subs {
		if err := n.send(sub, payload); err != nil {
			lastErr = err
			n.log.Warn("push send failed", "user_id", userID, "error", err)
		}
	}
	return lastErr
}

func (n *Notifier) send(sub models.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      n.keys.Subject,
		VAPIDPublicKey:  n.keys.PublicKey,
		VAPIDPrivateKey: n.keys.PrivateKey,
		TTL:             60,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		// Subscription expired at the push service; drop it.
		n.db.Delete(&sub)
		return errors.New("subscription gone")
	}
	if resp.StatusCode >= 400 {
		return errors.New("push service status " + resp.Status)
	}
	return nil
}

// Subscribe replaces the user's stored subscriptions with the given one.
// Browsers rotate endpoints, so only the newest is worth keeping.
func (n *Notifier) Subscribe(userID, endpoint, p256dh, auth string) (*models.PushSubscription, error) {
	if err := n.db.Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error; err != nil {
		n.log.Warn("stale push subscriptions not removed", "user_id", userID, "error", err)
	}

	sub := models.PushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	}
	if err := n.db.Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe removes one endpoint. Returns gorm.ErrRecordNotFound when
// the subscription does not exist.
func (n *Notifier) Unsubscribe(userID, endpoint string) error {
	var sub models.PushSubscription
	if err := n.db.Where("user_id = ? AND endpoint = ?", userID, endpoint).First(&sub).Error; err != nil {
		return err
	}
	return n.db.Delete(&sub).Error
}
