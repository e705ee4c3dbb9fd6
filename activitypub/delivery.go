package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/pitchconnect/db"
	"github.com/deemkeen/pitchconnect/util"
)

// StartDeliveryWorker starts a background worker that processes the
// delivery queue: sign, POST, retry with backoff, give up after 10 tries.
func StartDeliveryWorker(database *db.DB) {
	log.Println("Starting ActivityPub delivery worker...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		for range ticker.C {
			processDeliveryQueue(database)
		}
	}()
}

// processDeliveryQueue processes pending deliveries from the queue
func processDeliveryQueue(database *db.DB) {
	// Max 50 at a time
	err, items := database.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}

	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := deliverActivity(database, &item); err != nil {
			// Failed delivery - retry with exponential backoff
			item.Attempts++
			backoffMinutes := []int{1, 5, 15, 60, 240, 1440}[min(item.Attempts-1, 5)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

			if item.Attempts >= 10 {
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				database.DeleteDelivery(item.Id)
			} else {
				log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
					item.InboxURI, item.Attempts, backoffMinutes, err)
				database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
			database.DeleteDelivery(item.Id)
		}
	}
}

// deliverActivity attempts to deliver a single activity to an inbox
func deliverActivity(database *db.DB, item *db.DeliveryQueueItem) error {
	err, sender := database.ReadActorById(item.SenderActorId)
	if err != nil || sender == nil {
		return fmt.Errorf("sender actor %s not found: %w", item.SenderActorId, err)
	}

	err, keys := database.ReadActorKeys(sender.Id)
	if err != nil || keys == nil {
		return fmt.Errorf("no signing keys for actor %s: %w", sender.Handle(), err)
	}

	privateKey, err := ParsePrivateKey(keys.PrivatePem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	payload := []byte(item.ActivityJSON)
	hash := sha256.Sum256(payload)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", item.InboxURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	keyID := sender.IRI + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
