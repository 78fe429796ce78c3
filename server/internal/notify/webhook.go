package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

func (n *Notifier) sendSlack(url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", eventLabel(ev.Type), summary(ev)),
	})
	return n.post(url, body)
}

func (n *Notifier) sendTeams(url string, ev Event) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": eventColor(ev.Type),
		"summary":    string(ev.Type),
		"title":      fmt.Sprintf("Attendance session %s", ev.Type),
		"text":       summary(ev),
	}
	body, _ := json.Marshal(payload)
	return n.post(url, body)
}

func (n *Notifier) sendHTTP(url string, ev Event) error {
	body, _ := json.Marshal(map[string]interface{}{"event": ev})
	return n.post(url, body)
}

func (n *Notifier) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func summary(ev Event) string {
	name := ev.DisplayName
	if name == "" {
		name = ev.Key
	}
	switch ev.Type {
	case EventScanned:
		return fmt.Sprintf("%s (site %s) checked in at %s", name, ev.Key, ev.At.Format("15:04:05"))
	case EventExpired:
		if ev.Reason != "" {
			return fmt.Sprintf("%s (site %s) expired: %s", name, ev.Key, ev.Reason)
		}
		return fmt.Sprintf("%s (site %s) expired", name, ev.Key)
	default:
		return fmt.Sprintf("%s (site %s) %s", name, ev.Key, ev.Type)
	}
}

func eventLabel(t EventType) string {
	switch t {
	case EventScanned:
		return "[SCANNED]"
	case EventExpired:
		return "[EXPIRED]"
	default:
		return "[INFO]"
	}
}

func eventColor(t EventType) string {
	switch t {
	case EventExpired:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
